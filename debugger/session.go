package debugger

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/fansqz/jdwp-debugger/jdwp"
	"github.com/fansqz/jdwp-debugger/utils"
	"github.com/fansqz/jdwp-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

// Session 一个进程的调试会话。
// 维护断点登记表和线程簿记，在命令层之上提供"设断点并等待命中"、
// 方法调用、exec等有状态的工作流。
// 需要保证并发安全。
type Session struct {
	Pid         int
	PackageName string

	client *jdwp.Client

	// statusManager 会话的状态管理
	statusManager *utils.StatusManager

	// callback 会话级事件回调
	callback NotificationCallback

	mutex sync.RWMutex
	// breakpoints 断点登记表，key是虚拟机分配的requestId
	breakpoints map[uint32]*Breakpoint
	// threads 已知线程集合，元素是uint64的线程id
	threads sets.Set
	// suspendedThreads 被调试器挂起的线程集合
	suspendedThreads sets.Set
	// stepRequests 进行中的单步请求，requestId -> 线程
	stepRequests map[uint32]jdwp.ThreadID

	// currentThread 最近一次停下来的线程
	currentThread jdwp.ThreadID
	// currentFrame 最近一次查看的栈帧
	currentFrame jdwp.FrameID
}

// Attach 在已建立的字节流上创建调试会话。
// transport必须已经定向到目标进程的jdwp服务（见adb.OpenJDWP）。
func Attach(ctx context.Context, transport io.ReadWriteCloser, pid int, packageName string, callback NotificationCallback) (*Session, error) {
	client, err := jdwp.Connect(ctx, transport)
	if err != nil {
		return nil, err
	}
	s := &Session{
		Pid:              pid,
		PackageName:      packageName,
		client:           client,
		statusManager:    utils.NewStatusManager(),
		callback:         callback,
		breakpoints:      make(map[uint32]*Breakpoint),
		threads:          hashset.New(),
		suspendedThreads: hashset.New(),
		stepRequests:     make(map[uint32]jdwp.ThreadID),
	}

	// 通配订阅兜住所有没有精确订阅者的事件，
	// 线程和类加载的簿记、VM_DEATH的处理都走这里
	client.OnEvent(0, s.onWildcardEvent)
	client.OnDisconnect(s.onDisconnect)

	// 订阅线程的启动和结束，保持线程簿记跟上实际状态。
	// 这一步失败只降低簿记质量，不影响会话本身，记日志继续。
	if _, err = client.SetEventRequest(ctx, constants.EventKindThreadStart, constants.SuspendPolicyNone); err != nil {
		logrus.Warnf("[Session] set thread start event fail, err = %v", err)
	}
	if _, err = client.SetEventRequest(ctx, constants.EventKindThreadDeath, constants.SuspendPolicyNone); err != nil {
		logrus.Warnf("[Session] set thread death event fail, err = %v", err)
	}

	// 用AllThreads初始化线程集合
	threads, err := client.AllThreads(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	ids := make([]uint64, 0, len(threads))
	for _, tid := range threads {
		ids = append(ids, uint64(tid))
	}
	s.mutex.Lock()
	s.threads = utils.List2set(ids)
	s.mutex.Unlock()

	s.statusManager.Set(utils.Attached)
	logrus.Infof("[Session] attached, pid = %d, package = %s, threads = %d", pid, packageName, len(threads))
	return s, nil
}

// Client 暴露命令层，供调用方直接发原始命令
func (s *Session) Client() *jdwp.Client {
	return s.client
}

// Closed 会话是否已结束
func (s *Session) Closed() bool {
	return s.statusManager.Is(utils.Finish)
}

// notify 把事件交给会话回调
func (s *Session) notify(event interface{}) {
	if s.callback != nil {
		s.callback(event)
	}
}

// onDisconnect 连接断开，会话结束
func (s *Session) onDisconnect(err error) {
	if s.statusManager.Is(utils.Finish) {
		return
	}
	s.statusManager.Set(utils.Finish)
	logrus.Infof("[Session] disconnected, pid = %d, err = %v", s.Pid, err)
	s.notify(&ExitedEvent{Pid: s.Pid})
}

// onWildcardEvent 处理没有精确订阅者的事件
func (s *Session) onWildcardEvent(event jdwp.Event, policy constants.SuspendPolicy) {
	switch ev := event.(type) {
	case jdwp.EventThreadStart:
		s.mutex.Lock()
		s.threads.Add(uint64(ev.ThreadID()))
		s.mutex.Unlock()
		s.notify(&ThreadEvent{Reason: constants.ThreadStarted, Thread: ev.ThreadID()})
	case jdwp.EventThreadDeath:
		s.mutex.Lock()
		s.threads.Remove(uint64(ev.ThreadID()))
		s.suspendedThreads.Remove(uint64(ev.ThreadID()))
		s.mutex.Unlock()
		s.notify(&ThreadEvent{Reason: constants.ThreadExited, Thread: ev.ThreadID()})
	case jdwp.EventClassPrepare:
		s.notify(&ClassPrepareEvent{Thread: ev.ThreadID(), Signature: ev.Signature})
	case jdwp.EventVMDeath:
		// 虚拟机已死，dispatcher随后会关闭连接并触发onDisconnect
		logrus.Infof("[Session] vm death, pid = %d", s.Pid)
		s.notify(&VMDeathEvent{})
	case jdwp.EventSingleStep:
		s.onStepHit(ev, policy)
	case jdwp.EventBreakpoint:
		// 断点有精确订阅者，走到这里说明订阅还没来得及注册，
		// 按命中处理，簿记不能丢
		s.onBreakpointHit(ev, policy)
	default:
		logrus.Infof("[Session] unhandled event: %v", event)
	}
}

// markSuspended 事件挂起了线程时更新簿记
func (s *Session) markSuspended(thread jdwp.ThreadID, policy constants.SuspendPolicy) {
	if policy == constants.SuspendPolicyNone {
		return
	}
	s.mutex.Lock()
	s.suspendedThreads.Add(uint64(thread))
	s.currentThread = thread
	s.mutex.Unlock()
	s.statusManager.Set(utils.Stopped)
}

// onBreakpointHit 断点命中，更新命中计数和挂起簿记
func (s *Session) onBreakpointHit(ev jdwp.EventBreakpoint, policy constants.SuspendPolicy) {
	s.mutex.Lock()
	if bp, ok := s.breakpoints[ev.RequestID()]; ok {
		bp.HitCount++
	}
	s.mutex.Unlock()
	s.markSuspended(ev.ThreadID(), policy)
	s.notify(&StoppedEvent{
		Reason:    constants.BreakpointStopped,
		RequestID: ev.RequestID(),
		Thread:    ev.ThreadID(),
		Location:  ev.Location,
	})
}

// onStepHit 单步完成
func (s *Session) onStepHit(ev jdwp.EventSingleStep, policy constants.SuspendPolicy) {
	s.mutex.Lock()
	delete(s.stepRequests, ev.RequestID())
	s.mutex.Unlock()
	s.client.OffEvent(ev.RequestID())
	// 单步请求是一次性的，命中后清掉。
	// 回调跑在接收协程上，发命令等回复必须放到别的协程，否则会自己等死自己。
	requestID := ev.RequestID()
	gosync.Go(context.Background(), func(ctx context.Context) {
		if err := s.client.ClearEventRequest(ctx, constants.EventKindSingleStep, requestID); err != nil {
			logrus.Warnf("[Session] clear step request fail, err = %v", err)
		}
	})
	s.markSuspended(ev.ThreadID(), policy)
	s.notify(&StoppedEvent{
		Reason:    constants.StepStopped,
		RequestID: ev.RequestID(),
		Thread:    ev.ThreadID(),
		Location:  ev.Location,
	})
}

// ---------------------------------------------------------------------------
// 断点

// SetBreakpoint 在类的方法入口设置断点，返回虚拟机分配的requestId。
// 方法按名称匹配，存在重载时命中声明顺序里的第一个，
// 需要指定重载的调用方应该使用带签名的SetBreakpointAtMethod。
func (s *Session) SetBreakpoint(ctx context.Context, classSignature string, methodName string) (uint32, error) {
	return s.SetBreakpointAtMethod(ctx, classSignature, methodName, "")
}

// SetBreakpointAtMethod 在方法入口（字节码偏移0）设置断点，签名为空时按名称匹配
func (s *Session) SetBreakpointAtMethod(ctx context.Context, classSignature string, methodName string, methodSignature string) (uint32, error) {
	if s.Closed() {
		return 0, e.ErrSessionClosed
	}
	classID, err := s.findClass(ctx, classSignature)
	if err != nil {
		return 0, err
	}
	var method jdwp.MethodInfo
	if methodSignature == "" {
		// 方法名里带'('时按"name(args)returnType"简写解析
		method, err = s.findMethodByShorthand(ctx, classID, classSignature, methodName)
	} else {
		method, err = s.findMethod(ctx, classID, classSignature, methodName, methodSignature)
	}
	if err != nil {
		return 0, err
	}
	location := jdwp.Location{
		TypeTag: constants.TypeTagClass,
		Class:   classID,
		Method:  method.ID,
		Index:   0,
	}
	return s.SetBreakpointAtLocation(ctx, location, classSignature, methodName)
}

// SetBreakpointAtLocation 在指定代码位置设置断点，挂起策略固定为ALL
func (s *Session) SetBreakpointAtLocation(ctx context.Context, location jdwp.Location, classSignature string, methodName string) (uint32, error) {
	requestID, err := s.client.SetEventRequest(ctx, constants.EventKindBreakpoint, constants.SuspendPolicyAll,
		jdwp.LocationOnlyModifier(location))
	if err != nil {
		return 0, err
	}
	// 先注册订阅再登记断点；注册前到达的事件由通配订阅兜住
	s.client.OnEvent(requestID, func(event jdwp.Event, policy constants.SuspendPolicy) {
		if ev, ok := event.(jdwp.EventBreakpoint); ok {
			s.onBreakpointHit(ev, policy)
		}
	})
	s.mutex.Lock()
	s.breakpoints[requestID] = &Breakpoint{
		RequestID:      requestID,
		Location:       location,
		ClassSignature: classSignature,
		MethodName:     methodName,
		Enabled:        true,
	}
	s.mutex.Unlock()
	logrus.Infof("[Session] breakpoint set, request = %d, at = %s %s", requestID, classSignature, methodName)
	return requestID, nil
}

// SetBreakpointAndWait 设置断点并阻塞到第一次命中，返回命中的线程。
// 命中后线程保持挂起（挂起策略ALL），可以直接用于方法调用。
func (s *Session) SetBreakpointAndWait(ctx context.Context, classSignature string, methodName string) (uint32, jdwp.ThreadID, error) {
	requestID, err := s.SetBreakpointAtMethod(ctx, classSignature, methodName, "")
	if err != nil {
		return 0, 0, err
	}
	hitChannel := make(chan jdwp.EventBreakpoint, 1)
	// 覆盖默认订阅，命中时除了簿记还要唤醒等待者
	s.client.OnEvent(requestID, func(event jdwp.Event, policy constants.SuspendPolicy) {
		if ev, ok := event.(jdwp.EventBreakpoint); ok {
			s.onBreakpointHit(ev, policy)
			select {
			case hitChannel <- ev:
			default:
			}
		}
	})
	select {
	case ev := <-hitChannel:
		return requestID, ev.ThreadID(), nil
	case <-ctx.Done():
		return requestID, 0, ctx.Err()
	}
}

// ClearBreakpoint 清除断点
func (s *Session) ClearBreakpoint(ctx context.Context, requestID uint32) error {
	s.mutex.Lock()
	_, ok := s.breakpoints[requestID]
	delete(s.breakpoints, requestID)
	s.mutex.Unlock()
	if !ok {
		return fmt.Errorf("breakpoint %d not found", requestID)
	}
	s.client.OffEvent(requestID)
	return s.client.ClearEventRequest(ctx, constants.EventKindBreakpoint, requestID)
}

// ClearAllBreakpoints 清掉虚拟机里的全部断点并清空登记表
func (s *Session) ClearAllBreakpoints(ctx context.Context) error {
	s.mutex.Lock()
	ids := make([]uint32, 0, len(s.breakpoints))
	for id := range s.breakpoints {
		ids = append(ids, id)
	}
	s.breakpoints = make(map[uint32]*Breakpoint)
	s.mutex.Unlock()
	for _, id := range ids {
		s.client.OffEvent(id)
	}
	return s.client.ClearAllBreakpoints(ctx)
}

// GetBreakpoints 当前登记的断点
func (s *Session) GetBreakpoints() []*Breakpoint {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	breakpoints := make([]*Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		breakpoints = append(breakpoints, bp)
	}
	return breakpoints
}

// ---------------------------------------------------------------------------
// 线程

// GetThreads 会话已知的线程列表
func (s *Session) GetThreads(ctx context.Context) ([]*ThreadInfo, error) {
	if s.Closed() {
		return nil, e.ErrSessionClosed
	}
	s.mutex.RLock()
	ids := utils.Set2list(s.threads)
	s.mutex.RUnlock()
	threads := make([]*ThreadInfo, 0, len(ids))
	for _, id := range ids {
		tid := jdwp.ThreadID(id)
		name, err := s.client.ThreadName(ctx, tid)
		if err != nil {
			// 线程可能刚退出，跳过即可
			logrus.Warnf("[Session] get thread name fail, thread = %d, err = %v", id, err)
			continue
		}
		threads = append(threads, &ThreadInfo{ID: tid, Name: name})
	}
	return threads, nil
}

// SuspendThread 挂起线程并更新簿记
func (s *Session) SuspendThread(ctx context.Context, thread jdwp.ThreadID) error {
	if err := s.client.SuspendThread(ctx, thread); err != nil {
		return err
	}
	s.mutex.Lock()
	s.suspendedThreads.Add(uint64(thread))
	s.mutex.Unlock()
	return nil
}

// ResumeThread 恢复线程并更新簿记
func (s *Session) ResumeThread(ctx context.Context, thread jdwp.ThreadID) error {
	if err := s.client.ResumeThread(ctx, thread); err != nil {
		return err
	}
	s.mutex.Lock()
	s.suspendedThreads.Remove(uint64(thread))
	s.mutex.Unlock()
	return nil
}

// Resume 恢复所有被调试器挂起的线程
func (s *Session) Resume(ctx context.Context) error {
	if err := s.client.ResumeAll(ctx); err != nil {
		return err
	}
	s.mutex.Lock()
	s.suspendedThreads.Clear()
	s.mutex.Unlock()
	s.statusManager.Set(utils.Attached)
	return nil
}

// StepThread 对挂起的线程发起单步，完成时产生StoppedEvent。
// size取StepSizeMin/StepSizeLine，depth取StepDepthInto/Over/Out。
func (s *Session) StepThread(ctx context.Context, thread jdwp.ThreadID, size int32, depth int32) error {
	if !s.IsSuspended(thread) {
		return e.ErrNoThreadAvailable
	}
	requestID, err := s.client.SetEventRequest(ctx, constants.EventKindSingleStep, constants.SuspendPolicyAll,
		jdwp.StepModifier{Thread: thread, Size: size, Depth: depth},
		jdwp.CountModifier(1))
	if err != nil {
		return err
	}
	s.mutex.Lock()
	s.stepRequests[requestID] = thread
	s.mutex.Unlock()
	s.client.OnEvent(requestID, func(event jdwp.Event, policy constants.SuspendPolicy) {
		if ev, ok := event.(jdwp.EventSingleStep); ok {
			s.onStepHit(ev, policy)
		}
	})
	// 恢复线程让它跑到下一个停点
	return s.ResumeThread(ctx, thread)
}

// IsSuspended 线程是否被调试器挂起
func (s *Session) IsSuspended(thread jdwp.ThreadID) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.suspendedThreads.Contains(uint64(thread))
}

// anySuspendedThread 任取一个挂起的线程，方法调用需要
func (s *Session) anySuspendedThread() (jdwp.ThreadID, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	for _, v := range s.suspendedThreads.Values() {
		return jdwp.ThreadID(v.(uint64)), nil
	}
	return 0, e.ErrNoThreadAvailable
}

// CurrentThread 最近一次停下来的线程
func (s *Session) CurrentThread() jdwp.ThreadID {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.currentThread
}

// GetStackFrames 读取挂起线程的全部栈帧
func (s *Session) GetStackFrames(ctx context.Context, thread jdwp.ThreadID) ([]jdwp.FrameInfo, error) {
	if s.Closed() {
		return nil, e.ErrSessionClosed
	}
	frames, err := s.client.Frames(ctx, thread, 0, -1)
	if err != nil {
		return nil, err
	}
	if len(frames) > 0 {
		s.mutex.Lock()
		s.currentFrame = frames[0].Frame
		s.mutex.Unlock()
	}
	return frames, nil
}

// On 订阅requestId对应的底层事件，0为通配。
// 回调在接收协程上同步执行，不能阻塞。
func (s *Session) On(requestID uint32, callback jdwp.EventCallback) {
	s.client.OnEvent(requestID, callback)
}

// Off 取消订阅
func (s *Session) Off(requestID uint32) {
	s.client.OffEvent(requestID)
}

// ---------------------------------------------------------------------------
// 收尾

// Stop 结束会话：清掉所有断点，恢复所有挂起的线程，关闭连接。
// 清理过程中的错误只记日志，保证收尾走完。可以重复调用。
func (s *Session) Stop(ctx context.Context) error {
	if s.statusManager.Is(utils.Finish) {
		return nil
	}

	s.mutex.Lock()
	breakpoints := make([]uint32, 0, len(s.breakpoints))
	for id := range s.breakpoints {
		breakpoints = append(breakpoints, id)
	}
	s.breakpoints = make(map[uint32]*Breakpoint)
	suspended := utils.Set2list(s.suspendedThreads)
	s.suspendedThreads.Clear()
	s.mutex.Unlock()

	for _, id := range breakpoints {
		s.client.OffEvent(id)
		if err := s.client.ClearEventRequest(ctx, constants.EventKindBreakpoint, id); err != nil {
			logrus.Warnf("[Session] clear breakpoint %d fail, err = %v", id, err)
		}
	}
	for _, tid := range suspended {
		if err := s.client.ResumeThread(ctx, jdwp.ThreadID(tid)); err != nil {
			logrus.Warnf("[Session] resume thread %d fail, err = %v", tid, err)
		}
	}

	s.statusManager.Set(utils.Finish)
	s.client.Close()
	logrus.Infof("[Session] stopped, pid = %d", s.Pid)
	return nil
}

// ---------------------------------------------------------------------------
// 方法和类的解析

// findClass 按签名解析类，取第一个匹配
func (s *Session) findClass(ctx context.Context, signature string) (jdwp.ClassID, error) {
	classes, err := s.client.ClassesBySignature(ctx, signature)
	if err != nil {
		return 0, err
	}
	return classes[0].ClassID(), nil
}

// findMethod 在类中按名称（和可选的签名）找方法
func (s *Session) findMethod(ctx context.Context, classID jdwp.ClassID, classSignature string, name string, signature string) (jdwp.MethodInfo, error) {
	methods, err := s.client.Methods(ctx, jdwp.ReferenceTypeID(classID))
	if err != nil {
		return jdwp.MethodInfo{}, err
	}
	return findMethodIn(methods, classSignature, name, signature)
}

// findMethodByShorthand 支持"name(args)returnType"的简写，按第一个'('拆开
func (s *Session) findMethodByShorthand(ctx context.Context, classID jdwp.ClassID, classSignature string, shorthand string) (jdwp.MethodInfo, error) {
	index := strings.Index(shorthand, "(")
	if index < 0 {
		return s.findMethod(ctx, classID, classSignature, shorthand, "")
	}
	return s.findMethod(ctx, classID, classSignature, shorthand[:index], shorthand[index:])
}

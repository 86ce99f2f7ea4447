package jdwp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/fansqz/jdwp-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCommandTimeout 单个命令的默认超时时间
	DefaultCommandTimeout = 5 * time.Second
)

// EventCallback 事件回调，在dispatcher的接收协程上同步执行，
// 回调内不能做耗时操作，需要长时间处理的工作应该自己起协程。
type EventCallback func(event Event, policy constants.SuspendPolicy)

// DisconnectCallback 连接断开时触发
type DisconnectCallback func(err error)

// Dispatcher 维护请求等待表和事件订阅表。
// 出站命令分配单调递增的报文id，按id关联回复；
// 入站的Composite事件包解码后逐条派发给订阅者。
type Dispatcher struct {
	conn *PacketConn

	// Timeout 命令超时时间，零值时使用DefaultCommandTimeout
	Timeout time.Duration

	mutex   sync.Mutex
	nextID  uint32
	pending map[uint32]chan *Packet
	sizes   IDSizes
	closed  bool
	// closeChannel 关闭时广播，让所有等待中的请求立刻失败
	closeChannel chan struct{}

	subMutex     sync.Mutex
	subscribers  map[uint32]EventCallback
	onDisconnect DisconnectCallback
}

// NewDispatcher 创建dispatcher并启动接收循环
func NewDispatcher(conn *PacketConn) *Dispatcher {
	d := &Dispatcher{
		conn:         conn,
		nextID:       1,
		pending:      make(map[uint32]chan *Packet),
		sizes:        DefaultIDSizes,
		closeChannel: make(chan struct{}),
		subscribers:  make(map[uint32]EventCallback),
	}
	gosync.Go(context.Background(), func(ctx context.Context) {
		d.receiveLoop()
	})
	return d
}

// SetIDSizes 设置协商出来的id长度，影响事件报文的解码
func (d *Dispatcher) SetIDSizes(sizes IDSizes) {
	d.mutex.Lock()
	d.sizes = sizes
	d.mutex.Unlock()
}

// IDSizes 当前生效的id长度
func (d *Dispatcher) IDSizes() IDSizes {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.sizes
}

// Send 发送命令并等待回复，返回的Packet中Data已经去掉了2字节errorCode，
// 只剩命令相关内容。errorCode不为0时返回ProtocolError。
func (d *Dispatcher) Send(ctx context.Context, set constants.CommandSet, command uint8, data []byte) (*Packet, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}

	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return nil, e.ErrTransportClosed
	}
	id := d.nextID
	d.nextID++
	replyChannel := make(chan *Packet, 1)
	d.pending[id] = replyChannel
	d.mutex.Unlock()

	packet := NewCommandPacket(id, set, command, data)
	if err := d.conn.WritePacket(packet); err != nil {
		d.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-replyChannel:
		if reply.ErrorCode != constants.ErrorNone {
			return nil, e.NewProtocolError(reply.ErrorCode, id)
		}
		return reply, nil
	case <-timer.C:
		d.removePending(id)
		return nil, e.ErrTimeout
	case <-ctx.Done():
		d.removePending(id)
		return nil, ctx.Err()
	case <-d.closeChannel:
		return nil, e.ErrDisconnected
	}
}

func (d *Dispatcher) removePending(id uint32) {
	d.mutex.Lock()
	delete(d.pending, id)
	d.mutex.Unlock()
}

// OnEvent 注册requestId对应的事件回调，requestId为0表示通配订阅，
// 事件没有精确订阅者时兜底接收（VM_START、线程事件等都走这里）。
func (d *Dispatcher) OnEvent(requestID uint32, callback EventCallback) {
	d.subMutex.Lock()
	d.subscribers[requestID] = callback
	d.subMutex.Unlock()
}

// OffEvent 取消订阅
func (d *Dispatcher) OffEvent(requestID uint32) {
	d.subMutex.Lock()
	delete(d.subscribers, requestID)
	d.subMutex.Unlock()
}

// OnDisconnect 注册断线回调
func (d *Dispatcher) OnDisconnect(callback DisconnectCallback) {
	d.subMutex.Lock()
	d.onDisconnect = callback
	d.subMutex.Unlock()
}

// Close 主动关闭连接，等待中的请求全部以ErrDisconnected失败
func (d *Dispatcher) Close() {
	d.fail(e.ErrDisconnected)
}

// fail 连接不可用，关闭传输并唤醒所有等待者
func (d *Dispatcher) fail(err error) {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return
	}
	d.closed = true
	close(d.closeChannel)
	d.pending = make(map[uint32]chan *Packet)
	d.mutex.Unlock()

	_ = d.conn.Close()

	d.subMutex.Lock()
	callback := d.onDisconnect
	d.subMutex.Unlock()
	if callback != nil {
		callback(err)
	}
}

// receiveLoop 接收循环，对每个入站报文分类处理
func (d *Dispatcher) receiveLoop() {
	for {
		packet, err := d.conn.ReadPacket()
		if err != nil {
			if errors.Is(err, e.ErrMalformedPacket) {
				logrus.Errorf("[Dispatcher] stream corrupted: %v", err)
				d.fail(e.ErrMalformedPacket)
			} else {
				d.fail(e.ErrDisconnected)
			}
			return
		}
		if packet.IsReply() {
			d.handleReply(packet)
			continue
		}
		// 虚拟机主动发来的命令只可能是Composite事件
		if packet.CommandSet == constants.CommandSetEvent && packet.Command == constants.EventComposite {
			if ok := d.handleComposite(packet); !ok {
				return
			}
			continue
		}
		logrus.Warnf("[Dispatcher] unexpected command from vm: %v", packet)
	}
}

// handleReply 按id关联回复，超时后到达的回复直接丢弃
func (d *Dispatcher) handleReply(packet *Packet) {
	d.mutex.Lock()
	replyChannel, ok := d.pending[packet.ID]
	if ok {
		delete(d.pending, packet.ID)
	}
	d.mutex.Unlock()
	if !ok {
		logrus.Warnf("[Dispatcher] drop late reply, id = %d", packet.ID)
		return
	}
	replyChannel <- packet
}

// handleComposite 解码Composite事件包并按线上顺序逐条派发。
// 返回false表示流已经不可解析，接收循环需要退出。
func (d *Dispatcher) handleComposite(packet *Packet) bool {
	composite, err := DecodeComposite(packet.Data, d.IDSizes())
	if err != nil {
		// 事件记录解析错位是致命的，后续字节已经无法对齐
		logrus.Errorf("[Dispatcher] decode composite event fail, err = %v", err)
		d.fail(e.ErrMalformedPacket)
		return false
	}
	vmDeath := false
	for _, event := range composite.Events {
		d.deliver(event, composite.SuspendPolicy)
		if event.Kind() == constants.EventKindVMDeath {
			vmDeath = true
		}
	}
	if vmDeath {
		// 虚拟机已死，会话随之结束
		d.fail(e.ErrDisconnected)
		return false
	}
	return true
}

// deliver 把事件交给精确订阅者，没有时交给通配订阅者，两者只会触发其一
func (d *Dispatcher) deliver(event Event, policy constants.SuspendPolicy) {
	d.subMutex.Lock()
	callback, ok := d.subscribers[event.RequestID()]
	if !ok {
		callback, ok = d.subscribers[0]
	}
	d.subMutex.Unlock()
	if !ok {
		logrus.Infof("[Dispatcher] drop event without subscriber: %v", event)
		return
	}
	defer func() {
		// 订阅者panic不能影响其他事件和接收循环
		if r := recover(); r != nil {
			logrus.Errorf("[Dispatcher] event callback panic: %v", r)
		}
	}()
	callback(event, policy)
}

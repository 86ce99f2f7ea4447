package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/fansqz/jdwp-debugger/constants"
	. "github.com/fansqz/jdwp-debugger/debugger"
	"github.com/fansqz/jdwp-debugger/jdwp"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

func (d *DAPSession) dispatchRequest(request dap.Message) {
	ctx := context.Background()
	switch request := request.(type) {
	case *dap.InitializeRequest:
		d.onInitializeRequest(request)
	case *dap.AttachRequest:
		d.onAttachRequest(ctx, request)
	case *dap.SetFunctionBreakpointsRequest:
		d.onSetFunctionBreakpointsRequest(ctx, request)
	case *dap.ConfigurationDoneRequest:
		d.onConfigurationDoneRequest(request)
	case *dap.ThreadsRequest:
		d.onThreadsRequest(ctx, request)
	case *dap.StackTraceRequest:
		d.onStackTraceRequest(ctx, request)
	case *dap.ScopesRequest:
		d.onScopesRequest(request)
	case *dap.VariablesRequest:
		d.onVariablesRequest(ctx, request)
	case *dap.ContinueRequest:
		d.onContinueRequest(ctx, request)
	case *dap.NextRequest:
		d.onStepRequest(ctx, request.Request, request.Arguments.ThreadId, constants.StepDepthOver)
	case *dap.StepInRequest:
		d.onStepRequest(ctx, request.Request, request.Arguments.ThreadId, constants.StepDepthInto)
	case *dap.StepOutRequest:
		d.onStepRequest(ctx, request.Request, request.Arguments.ThreadId, constants.StepDepthOut)
	case *dap.PauseRequest:
		d.onPauseRequest(ctx, request)
	case *dap.EvaluateRequest:
		d.onEvaluateRequest(ctx, request)
	case *dap.DisconnectRequest:
		d.onDisconnectRequest(ctx, request)
	default:
		if baseReq, ok := request.(*dap.Request); ok {
			d.send(newErrorResponse(baseReq.Seq, baseReq.Command, fmt.Sprintf("%s is not yet supported", baseReq.Command)))
		} else {
			logrus.Warnf("[DAPSession] unable to process %#v", request)
		}
	}
}

func (d *DAPSession) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsFunctionBreakpoints = true
	response.Body.SupportsConditionalBreakpoints = false
	response.Body.SupportsEvaluateForHovers = false
	response.Body.SupportsStepBack = false
	response.Body.SupportsSetVariable = false
	response.Body.SupportsRestartRequest = false
	response.Body.SupportTerminateDebuggee = false
	response.Body.SupportsTerminateRequest = false
	e := &dap.InitializedEvent{Event: *newEvent("initialized")}
	d.send(e)
	d.send(response)
}

// attachArguments attach请求的参数
type attachArguments struct {
	// Pid 目标进程号，为0时用Package解析
	Pid int `json:"pid"`
	// Package 目标应用包名
	Package string `json:"package"`
}

func (d *DAPSession) onAttachRequest(ctx context.Context, request *dap.AttachRequest) {
	args := attachArguments{}
	if err := json.Unmarshal(request.Arguments, &args); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	pid := args.Pid
	if pid == 0 && args.Package != "" {
		var err error
		if pid, err = d.adbClient.FindPidByPackage(ctx, args.Package); err != nil || pid == 0 {
			d.send(newErrorResponse(request.Seq, request.Command, fmt.Sprintf("cannot resolve package %s", args.Package)))
			return
		}
	}
	if pid == 0 {
		d.send(newErrorResponse(request.Seq, request.Command, "pid or package is required"))
		return
	}

	transport, err := d.adbClient.OpenJDWP(ctx, pid)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	session, err := d.manager.StartDebugging(ctx, transport, pid, args.Package, d.onDebugEvent)
	if err != nil {
		transport.Close()
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	d.session = session
	d.pid = pid

	response := &dap.AttachResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

// onDebugEvent 把调试会话的事件翻译成DAP事件推给客户端
func (d *DAPSession) onDebugEvent(event interface{}) {
	switch ev := event.(type) {
	case *StoppedEvent:
		e := &dap.StoppedEvent{Event: *newEvent("stopped")}
		e.Body.Reason = string(ev.Reason)
		e.Body.ThreadId = int(ev.Thread)
		e.Body.AllThreadsStopped = true
		d.send(e)
	case *ThreadEvent:
		e := &dap.ThreadEvent{Event: *newEvent("thread")}
		e.Body.ThreadId = int(ev.Thread)
		if ev.Reason == constants.ThreadStarted {
			e.Body.Reason = "started"
		} else {
			e.Body.Reason = "exited"
		}
		d.send(e)
	case *VMDeathEvent, *ExitedEvent:
		e := &dap.TerminatedEvent{Event: *newEvent("terminated")}
		d.send(e)
	}
}

// breakpointMutex 断点的覆盖式更新不允许并发
var breakpointMutex sync.Mutex

func (d *DAPSession) onSetFunctionBreakpointsRequest(ctx context.Context, request *dap.SetFunctionBreakpointsRequest) {
	if d.session == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "debug not start"))
		return
	}
	breakpointMutex.Lock()
	defer breakpointMutex.Unlock()

	// DAP的语义是覆盖式更新，先清掉已有断点
	for _, bp := range d.session.GetBreakpoints() {
		if err := d.session.ClearBreakpoint(ctx, bp.RequestID); err != nil {
			logrus.Warnf("[DAPSession] clear breakpoint fail, err = %v", err)
		}
	}

	response := &dap.SetFunctionBreakpointsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, bp := range request.Arguments.Breakpoints {
		classSignature, methodName, err := parseFunctionName(bp.Name)
		if err == nil {
			_, err = d.session.SetBreakpoint(ctx, classSignature, methodName)
		}
		if err != nil {
			response.Body.Breakpoints[i].Verified = false
			response.Body.Breakpoints[i].Message = err.Error()
			continue
		}
		response.Body.Breakpoints[i].Verified = true
	}
	d.send(response)
}

// parseFunctionName 解析断点的函数名。
// 支持"Landroid/app/Activity;->onCreate"和"android.app.Activity.onCreate"两种写法。
func parseFunctionName(name string) (string, string, error) {
	if index := strings.Index(name, "->"); index >= 0 {
		return name[:index], name[index+2:], nil
	}
	index := strings.LastIndex(name, ".")
	if index <= 0 || index == len(name)-1 {
		return "", "", fmt.Errorf("bad function name %q", name)
	}
	class, method := name[:index], name[index+1:]
	signature := "L" + strings.ReplaceAll(class, ".", "/") + ";"
	return signature, method, nil
}

func (d *DAPSession) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	response := &dap.ConfigurationDoneResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DAPSession) onThreadsRequest(ctx context.Context, request *dap.ThreadsRequest) {
	if d.session == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "debug not start"))
		return
	}
	threads, err := d.session.GetThreads(ctx)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.ThreadsResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Threads = make([]dap.Thread, 0, len(threads))
	for _, t := range threads {
		response.Body.Threads = append(response.Body.Threads, dap.Thread{
			Id:   int(t.ID),
			Name: t.Name,
		})
	}
	d.send(response)
}

func (d *DAPSession) onStackTraceRequest(ctx context.Context, request *dap.StackTraceRequest) {
	if d.session == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "debug not start"))
		return
	}
	thread := jdwp.ThreadID(request.Arguments.ThreadId)
	frames, err := d.session.GetStackFrames(ctx, thread)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.StackTraceResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	for _, frame := range frames {
		ref := d.handles.add(handle{
			kind:   handleFrame,
			thread: uint64(thread),
			frame:  uint64(frame.Frame),
		})
		response.Body.StackFrames = append(response.Body.StackFrames, dap.StackFrame{
			Id:   ref,
			Name: frame.Location.String(),
		})
	}
	response.Body.TotalFrames = len(response.Body.StackFrames)
	d.send(response)
}

func (d *DAPSession) onScopesRequest(request *dap.ScopesRequest) {
	h, ok := d.handles.get(request.Arguments.FrameId)
	if !ok || h.kind != handleFrame {
		d.send(newErrorResponse(request.Seq, request.Command, "frame not found"))
		return
	}
	response := &dap.ScopesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.Scopes = []dap.Scope{
		{Name: "Local", VariablesReference: request.Arguments.FrameId},
	}
	d.send(response)
}

func (d *DAPSession) onVariablesRequest(ctx context.Context, request *dap.VariablesRequest) {
	if d.session == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "debug not start"))
		return
	}
	h, ok := d.handles.get(request.Arguments.VariablesReference)
	if !ok {
		d.send(newErrorResponse(request.Seq, request.Command, "reference not found"))
		return
	}
	var variables []*Variable
	var err error
	switch h.kind {
	case handleFrame:
		variables, err = d.session.GetLocalVariables(ctx, jdwp.ThreadID(h.thread), jdwp.FrameID(h.frame))
	case handleArray:
		variables, err = d.session.GetArrayValues(ctx, jdwp.ArrayID(h.object), 0, 0)
	default:
		variables, err = d.session.InspectObject(ctx, jdwp.ObjectID(h.object))
	}
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.VariablesResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	for _, v := range variables {
		ref := 0
		if v.Reference != 0 {
			kind := handleObject
			if strings.HasPrefix(v.Type, "[") {
				kind = handleArray
			}
			ref = d.handles.add(handle{kind: kind, object: v.Reference})
		}
		response.Body.Variables = append(response.Body.Variables, dap.Variable{
			Name:               v.Name,
			Type:               v.Type,
			Value:              v.Value,
			VariablesReference: ref,
		})
	}
	d.send(response)
}

func (d *DAPSession) onContinueRequest(ctx context.Context, request *dap.ContinueRequest) {
	if d.session == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "debug not start"))
		return
	}
	if err := d.session.Resume(ctx); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	d.handles.reset()
	response := &dap.ContinueResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	response.Body.AllThreadsContinued = true
	d.send(response)
}

func (d *DAPSession) onStepRequest(ctx context.Context, request dap.Request, threadID int, depth int32) {
	if d.session == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "debug not start"))
		return
	}
	err := d.session.StepThread(ctx, jdwp.ThreadID(threadID), constants.StepSizeLine, depth)
	if err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	d.handles.reset()
	response := &dap.NextResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

func (d *DAPSession) onPauseRequest(ctx context.Context, request *dap.PauseRequest) {
	if d.session == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "debug not start"))
		return
	}
	if err := d.session.SuspendThread(ctx, jdwp.ThreadID(request.Arguments.ThreadId)); err != nil {
		d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
		return
	}
	response := &dap.PauseResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

// onEvaluateRequest 支持两条指令：
//
//	exec <命令>  在目标进程里执行shell命令
//	load <路径>  让目标进程加载本地库
func (d *DAPSession) onEvaluateRequest(ctx context.Context, request *dap.EvaluateRequest) {
	if d.session == nil {
		d.send(newErrorResponse(request.Seq, request.Command, "debug not start"))
		return
	}
	expression := strings.TrimSpace(request.Arguments.Expression)
	response := &dap.EvaluateResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	switch {
	case strings.HasPrefix(expression, "exec "):
		exitCode, err := d.session.Exec(ctx, 0, strings.TrimPrefix(expression, "exec "))
		if err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
		response.Body.Result = fmt.Sprintf("exit code %d", exitCode)
	case strings.HasPrefix(expression, "load "):
		if err := d.session.LoadLibrary(ctx, 0, strings.TrimPrefix(expression, "load ")); err != nil {
			d.send(newErrorResponse(request.Seq, request.Command, err.Error()))
			return
		}
		response.Body.Result = "loaded"
	default:
		d.send(newErrorResponse(request.Seq, request.Command, "only 'exec <cmd>' and 'load <path>' are supported"))
		return
	}
	d.send(response)
}

func (d *DAPSession) onDisconnectRequest(ctx context.Context, request *dap.DisconnectRequest) {
	if d.session != nil {
		if err := d.manager.StopDebugging(ctx, d.pid); err != nil {
			logrus.Warnf("[DAPSession] stop debugging fail, err = %v", err)
		}
		d.session = nil
	}
	response := &dap.DisconnectResponse{}
	response.Response = *newResponse(request.Seq, request.Command)
	d.send(response)
}

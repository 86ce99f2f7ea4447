package jdwp

import (
	"fmt"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
)

// Composite事件包的payload布局：
//
//	suspendPolicy u8 · eventCount u32 · event₁ · event₂ · …
//
// 每条事件记录以eventKind u8开头，然后是requestId u32，
// 除VM_DEATH/VM_DISCONNECTED/USER_DEFINED外都带threadId。
// 每种事件的后缀字段长度必须解析得分毫不差，一旦错位整个流就废了，
// 所以这里为虚拟机可能发来的每种事件都实现精确解码，未知类型直接报错。

// Event 虚拟机发来的单条事件记录
type Event interface {
	Kind() constants.EventKind
	RequestID() uint32
}

// ThreadEvent 携带线程id的事件
type ThreadEvent interface {
	Event
	ThreadID() ThreadID
}

// Composite 一个Composite事件包解码后的内容
type Composite struct {
	SuspendPolicy constants.SuspendPolicy
	Events        []Event
}

// eventBase 所有事件共有的头部字段
type eventBase struct {
	Request uint32
	Thread  ThreadID
}

func (b eventBase) RequestID() uint32  { return b.Request }
func (b eventBase) ThreadID() ThreadID { return b.Thread }

// EventVMStart 虚拟机启动
type EventVMStart struct {
	eventBase
}

// EventVMDeath 虚拟机退出，收到后会话即结束
type EventVMDeath struct {
	Request uint32
}

func (ev EventVMDeath) RequestID() uint32 { return ev.Request }

// EventVMDisconnected 连接断开（部分虚拟机在关闭前发送）
type EventVMDisconnected struct {
	Request uint32
}

func (ev EventVMDisconnected) RequestID() uint32 { return ev.Request }

// EventUserDefined 用户自定义事件，协议保留
type EventUserDefined struct {
	Request uint32
}

func (ev EventUserDefined) RequestID() uint32 { return ev.Request }

// EventSingleStep 单步完成
type EventSingleStep struct {
	eventBase
	Location Location
}

// EventBreakpoint 断点命中
type EventBreakpoint struct {
	eventBase
	Location Location
}

// EventMethodEntry 方法进入
type EventMethodEntry struct {
	eventBase
	Location Location
}

// EventMethodExit 方法退出
type EventMethodExit struct {
	eventBase
	Location Location
}

// EventMethodExitWithReturnValue 带返回值的方法退出
type EventMethodExitWithReturnValue struct {
	eventBase
	Location Location
	Value    TaggedValue
}

// EventFramePop 栈帧弹出
type EventFramePop struct {
	eventBase
	Location Location
}

// EventException 异常抛出
type EventException struct {
	eventBase
	ThrowLocation Location
	Exception     TaggedObjectID
	CatchLocation Location
}

// EventExceptionCatch 异常被捕获
type EventExceptionCatch struct {
	eventBase
	Location      Location
	CatchLocation Location
}

// EventThreadStart 线程启动
type EventThreadStart struct {
	eventBase
}

// EventThreadDeath 线程结束
type EventThreadDeath struct {
	eventBase
}

// EventClassPrepare 类进入prepared状态
type EventClassPrepare struct {
	eventBase
	TypeTag   constants.TypeTag
	TypeID    ReferenceTypeID
	Signature string
	Status    constants.ClassStatus
}

// EventClassLoad 类加载
type EventClassLoad struct {
	eventBase
	TypeTag   constants.TypeTag
	TypeID    ReferenceTypeID
	Signature string
	Status    constants.ClassStatus
}

// EventClassUnload 类卸载
type EventClassUnload struct {
	eventBase
	Signature string
}

// EventFieldAccess 字段读取
type EventFieldAccess struct {
	eventBase
	TypeTag  constants.TypeTag
	TypeID   ReferenceTypeID
	Field    FieldID
	Object   TaggedObjectID
	Location Location
}

// EventFieldModification 字段修改
type EventFieldModification struct {
	eventBase
	TypeTag  constants.TypeTag
	TypeID   ReferenceTypeID
	Field    FieldID
	Object   TaggedObjectID
	Location Location
	NewValue TaggedValue
}

// EventMonitor 四种monitor事件的公共记录
type EventMonitor struct {
	eventBase
	kind     constants.EventKind
	TypeTag  constants.TypeTag
	TypeID   ReferenceTypeID
	Location Location
}

func (ev EventVMStart) Kind() constants.EventKind        { return constants.EventKindVMStart }
func (ev EventVMDeath) Kind() constants.EventKind        { return constants.EventKindVMDeath }
func (ev EventVMDisconnected) Kind() constants.EventKind { return constants.EventKindVMDisconnected }
func (ev EventUserDefined) Kind() constants.EventKind    { return constants.EventKindUserDefined }
func (ev EventSingleStep) Kind() constants.EventKind     { return constants.EventKindSingleStep }
func (ev EventBreakpoint) Kind() constants.EventKind     { return constants.EventKindBreakpoint }
func (ev EventMethodEntry) Kind() constants.EventKind    { return constants.EventKindMethodEntry }
func (ev EventMethodExit) Kind() constants.EventKind     { return constants.EventKindMethodExit }
func (ev EventMethodExitWithReturnValue) Kind() constants.EventKind {
	return constants.EventKindMethodExitWithReturnValue
}
func (ev EventFramePop) Kind() constants.EventKind       { return constants.EventKindFramePop }
func (ev EventException) Kind() constants.EventKind      { return constants.EventKindException }
func (ev EventExceptionCatch) Kind() constants.EventKind { return constants.EventKindExceptionCatch }
func (ev EventThreadStart) Kind() constants.EventKind    { return constants.EventKindThreadStart }
func (ev EventThreadDeath) Kind() constants.EventKind    { return constants.EventKindThreadDeath }
func (ev EventClassPrepare) Kind() constants.EventKind   { return constants.EventKindClassPrepare }
func (ev EventClassLoad) Kind() constants.EventKind      { return constants.EventKindClassLoad }
func (ev EventClassUnload) Kind() constants.EventKind    { return constants.EventKindClassUnload }
func (ev EventFieldAccess) Kind() constants.EventKind    { return constants.EventKindFieldAccess }
func (ev EventFieldModification) Kind() constants.EventKind {
	return constants.EventKindFieldModification
}
func (ev EventMonitor) Kind() constants.EventKind { return ev.kind }

// DecodeComposite 解码一个Composite事件包的payload。
// 解码必须消费payload的每一个字节，多一个少一个都说明解析错位。
func DecodeComposite(data []byte, sizes IDSizes) (*Composite, error) {
	r := NewReader(data, sizes)
	composite := &Composite{
		SuspendPolicy: constants.SuspendPolicy(r.Uint8()),
	}
	count := r.Uint32()
	for i := uint32(0); i < count; i++ {
		event, err := decodeEvent(r)
		if err != nil {
			return nil, err
		}
		composite.Events = append(composite.Events, event)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after composite events", e.ErrMalformedPacket, r.Remaining())
	}
	return composite, nil
}

// decodeEvent 解码单条事件记录
func decodeEvent(r *Reader) (Event, error) {
	kind := constants.EventKind(r.Uint8())
	if err := r.Err(); err != nil {
		return nil, err
	}

	// 不带threadId的事件
	switch kind {
	case constants.EventKindVMDeath:
		return EventVMDeath{Request: r.Uint32()}, r.Err()
	case constants.EventKindVMDisconnected:
		return EventVMDisconnected{Request: r.Uint32()}, r.Err()
	case constants.EventKindUserDefined:
		return EventUserDefined{Request: r.Uint32()}, r.Err()
	}

	base := eventBase{
		Request: r.Uint32(),
		Thread:  r.ThreadID(),
	}

	var event Event
	switch kind {
	case constants.EventKindVMStart:
		event = EventVMStart{base}
	case constants.EventKindSingleStep:
		event = EventSingleStep{base, r.Location()}
	case constants.EventKindBreakpoint:
		event = EventBreakpoint{base, r.Location()}
	case constants.EventKindMethodEntry:
		event = EventMethodEntry{base, r.Location()}
	case constants.EventKindMethodExit:
		event = EventMethodExit{base, r.Location()}
	case constants.EventKindMethodExitWithReturnValue:
		event = EventMethodExitWithReturnValue{base, r.Location(), r.TaggedValue()}
	case constants.EventKindFramePop:
		event = EventFramePop{base, r.Location()}
	case constants.EventKindException:
		event = EventException{base, r.Location(), r.TaggedObjectID(), r.Location()}
	case constants.EventKindExceptionCatch:
		event = EventExceptionCatch{base, r.Location(), r.Location()}
	case constants.EventKindThreadStart:
		event = EventThreadStart{base}
	case constants.EventKindThreadDeath:
		event = EventThreadDeath{base}
	case constants.EventKindClassPrepare:
		event = EventClassPrepare{base, constants.TypeTag(r.Uint8()), r.ReferenceTypeID(), r.String(), constants.ClassStatus(r.Int32())}
	case constants.EventKindClassLoad:
		event = EventClassLoad{base, constants.TypeTag(r.Uint8()), r.ReferenceTypeID(), r.String(), constants.ClassStatus(r.Int32())}
	case constants.EventKindClassUnload:
		event = EventClassUnload{base, r.String()}
	case constants.EventKindFieldAccess:
		event = EventFieldAccess{base, constants.TypeTag(r.Uint8()), r.ReferenceTypeID(), r.FieldID(), r.TaggedObjectID(), r.Location()}
	case constants.EventKindFieldModification:
		event = EventFieldModification{base, constants.TypeTag(r.Uint8()), r.ReferenceTypeID(), r.FieldID(), r.TaggedObjectID(), r.Location(), r.TaggedValue()}
	case constants.EventKindMonitorContendedEnter, constants.EventKindMonitorContendedEntered,
		constants.EventKindMonitorWait, constants.EventKindMonitorWaited:
		event = EventMonitor{base, kind, constants.TypeTag(r.Uint8()), r.ReferenceTypeID(), r.Location()}
	default:
		// 未知事件类型无法确定记录长度，按协议损坏处理
		return nil, fmt.Errorf("%w: unknown event kind %d", e.ErrMalformedPacket, kind)
	}
	return event, r.Err()
}

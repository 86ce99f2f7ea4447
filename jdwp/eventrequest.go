package jdwp

import (
	"context"

	"github.com/fansqz/jdwp-debugger/constants"
)

// EventModifier 事件请求的过滤器，编码为1字节kind加kind相关内容
type EventModifier interface {
	ModifierKind() constants.ModifierKind
	encode(w *Writer)
}

// CountModifier 事件触发count次后失效
type CountModifier int32

// ThreadOnlyModifier 只报告指定线程上的事件
type ThreadOnlyModifier ThreadID

// ClassOnlyModifier 只报告指定类型相关的事件
type ClassOnlyModifier ReferenceTypeID

// ClassMatchModifier 按类名模式过滤，支持首尾通配，如"android.app.*"
type ClassMatchModifier string

// ClassExcludeModifier 排除匹配模式的类
type ClassExcludeModifier string

// LocationOnlyModifier 只报告指定代码位置上的事件，断点就是靠它实现的
type LocationOnlyModifier Location

// ExceptionOnlyModifier 异常事件过滤
type ExceptionOnlyModifier struct {
	ExceptionOrNull ReferenceTypeID
	Caught          bool
	Uncaught        bool
}

// FieldOnlyModifier 字段事件过滤
type FieldOnlyModifier struct {
	Type  ReferenceTypeID
	Field FieldID
}

// StepModifier 单步事件的线程、粒度和深度
type StepModifier struct {
	Thread ThreadID
	Size   int32
	Depth  int32
}

// InstanceOnlyModifier 只报告this为指定对象的事件
type InstanceOnlyModifier ObjectID

func (CountModifier) ModifierKind() constants.ModifierKind       { return constants.ModifierCount }
func (ThreadOnlyModifier) ModifierKind() constants.ModifierKind  { return constants.ModifierThreadOnly }
func (ClassOnlyModifier) ModifierKind() constants.ModifierKind   { return constants.ModifierClassOnly }
func (ClassMatchModifier) ModifierKind() constants.ModifierKind  { return constants.ModifierClassMatch }
func (ClassExcludeModifier) ModifierKind() constants.ModifierKind {
	return constants.ModifierClassExclude
}
func (LocationOnlyModifier) ModifierKind() constants.ModifierKind {
	return constants.ModifierLocationOnly
}
func (ExceptionOnlyModifier) ModifierKind() constants.ModifierKind {
	return constants.ModifierExceptionOnly
}
func (FieldOnlyModifier) ModifierKind() constants.ModifierKind { return constants.ModifierFieldOnly }
func (StepModifier) ModifierKind() constants.ModifierKind      { return constants.ModifierStep }
func (InstanceOnlyModifier) ModifierKind() constants.ModifierKind {
	return constants.ModifierInstanceOnly
}

func (m CountModifier) encode(w *Writer) {
	w.Int32(int32(m))
}

func (m ThreadOnlyModifier) encode(w *Writer) {
	w.ThreadID(ThreadID(m))
}

func (m ClassOnlyModifier) encode(w *Writer) {
	w.ReferenceTypeID(ReferenceTypeID(m))
}

func (m ClassMatchModifier) encode(w *Writer) {
	w.String(string(m))
}

func (m ClassExcludeModifier) encode(w *Writer) {
	w.String(string(m))
}

func (m LocationOnlyModifier) encode(w *Writer) {
	w.Location(Location(m))
}

func (m ExceptionOnlyModifier) encode(w *Writer) {
	w.ReferenceTypeID(m.ExceptionOrNull)
	w.Uint8(boolByte(m.Caught))
	w.Uint8(boolByte(m.Uncaught))
}

func (m FieldOnlyModifier) encode(w *Writer) {
	w.ReferenceTypeID(m.Type)
	w.FieldID(m.Field)
}

func (m StepModifier) encode(w *Writer) {
	w.ThreadID(m.Thread)
	w.Int32(m.Size)
	w.Int32(m.Depth)
}

func (m InstanceOnlyModifier) encode(w *Writer) {
	w.ObjectID(ObjectID(m))
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// SetEventRequest 发送EventRequest.Set，编码为
// eventKind u8 · suspendPolicy u8 · modifierCount u32 · modifier…，
// 返回虚拟机分配的requestId，之后该请求触发的事件都会带上这个id。
func (c *Client) SetEventRequest(ctx context.Context, kind constants.EventKind, policy constants.SuspendPolicy, modifiers ...EventModifier) (uint32, error) {
	w := c.writer()
	w.Uint8(uint8(kind))
	w.Uint8(uint8(policy))
	w.Uint32(uint32(len(modifiers)))
	for _, m := range modifiers {
		w.Uint8(uint8(m.ModifierKind()))
		m.encode(w)
	}
	reply, err := c.send(ctx, constants.CommandSetEventRequest, constants.EventRequestSet, w)
	if err != nil {
		return 0, err
	}
	r := c.reader(reply)
	requestID := r.Uint32()
	return requestID, r.Err()
}

// ClearEventRequest 取消事件请求，之后满足条件也不会再产生事件
func (c *Client) ClearEventRequest(ctx context.Context, kind constants.EventKind, requestID uint32) error {
	w := c.writer()
	w.Uint8(uint8(kind))
	w.Uint32(requestID)
	_, err := c.send(ctx, constants.CommandSetEventRequest, constants.EventRequestClear, w)
	return err
}

// ClearAllBreakpoints 清除虚拟机里的全部断点请求
func (c *Client) ClearAllBreakpoints(ctx context.Context) error {
	_, err := c.send(ctx, constants.CommandSetEventRequest, constants.EventRequestClearAllBreakpoints, nil)
	return err
}

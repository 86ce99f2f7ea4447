package jdwp

import (
	"context"
	"io"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/sirupsen/logrus"
)

// Client JDWP命令层。每个方法对应协议里的一条命令，
// 负责参数编码、回复解析和错误码转换，阻塞直到收到回复或超时。
type Client struct {
	dispatcher *Dispatcher
	conn       *PacketConn
}

// Connect 在字节流上完成握手，启动dispatcher，并和虚拟机协商id长度。
// Android的ART固定使用8字节id，这里仍然按协议协商并校验，避免在
// 其他profile上悄悄解析错位。
func Connect(ctx context.Context, rwc io.ReadWriteCloser) (*Client, error) {
	conn, err := NewPacketConn(rwc)
	if err != nil {
		return nil, err
	}
	c := &Client{
		dispatcher: NewDispatcher(conn),
		conn:       conn,
	}
	sizes, err := c.IDSizes(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err = sizes.Check(); err != nil {
		c.Close()
		return nil, err
	}
	c.dispatcher.SetIDSizes(sizes)
	logrus.Infof("[Client] connected, id sizes = %+v", sizes)
	return c, nil
}

// Close 关闭连接
func (c *Client) Close() {
	c.dispatcher.Close()
}

// OnEvent 订阅requestId对应的事件，0为通配
func (c *Client) OnEvent(requestID uint32, callback EventCallback) {
	c.dispatcher.OnEvent(requestID, callback)
}

// OffEvent 取消订阅
func (c *Client) OffEvent(requestID uint32) {
	c.dispatcher.OffEvent(requestID)
}

// OnDisconnect 注册断线回调
func (c *Client) OnDisconnect(callback DisconnectCallback) {
	c.dispatcher.OnDisconnect(callback)
}

func (c *Client) writer() *Writer {
	return NewWriter(c.dispatcher.IDSizes())
}

func (c *Client) reader(reply *Packet) *Reader {
	return NewReader(reply.Data, c.dispatcher.IDSizes())
}

func (c *Client) send(ctx context.Context, set constants.CommandSet, command uint8, w *Writer) (*Packet, error) {
	var data []byte
	if w != nil {
		data = w.Bytes()
	}
	return c.dispatcher.Send(ctx, set, command, data)
}

// ---------------------------------------------------------------------------
// VirtualMachine命令集

// Version 查询虚拟机版本，主要用于连通性探测
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	reply, err := c.send(ctx, constants.CommandSetVirtualMachine, constants.VMVersion, nil)
	if err != nil {
		return VersionInfo{}, err
	}
	r := c.reader(reply)
	info := VersionInfo{
		Description: r.String(),
		JDWPMajor:   r.Int32(),
		JDWPMinor:   r.Int32(),
		VMVersion:   r.String(),
		VMName:      r.String(),
	}
	return info, r.Err()
}

// ClassesBySignature 按JNI签名查找已加载的类，如"Landroid/app/Activity;"、"[I"。
// 虚拟机返回空列表时视为类不存在。
func (c *Client) ClassesBySignature(ctx context.Context, signature string) ([]ClassInfo, error) {
	w := c.writer()
	w.String(signature)
	reply, err := c.send(ctx, constants.CommandSetVirtualMachine, constants.VMClassesBySignature, w)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	count := r.Uint32()
	classes := make([]ClassInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		classes = append(classes, ClassInfo{
			TypeTag:   constants.TypeTag(r.Uint8()),
			TypeID:    r.ReferenceTypeID(),
			Status:    constants.ClassStatus(r.Int32()),
			Signature: signature,
		})
	}
	if err = r.Err(); err != nil {
		return nil, err
	}
	if len(classes) == 0 {
		return nil, &e.ClassNotFoundError{Signature: signature}
	}
	return classes, nil
}

// AllThreads 列出虚拟机里所有存活线程
func (c *Client) AllThreads(ctx context.Context) ([]ThreadID, error) {
	reply, err := c.send(ctx, constants.CommandSetVirtualMachine, constants.VMAllThreads, nil)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	count := r.Uint32()
	threads := make([]ThreadID, 0, count)
	for i := uint32(0); i < count; i++ {
		threads = append(threads, r.ThreadID())
	}
	return threads, r.Err()
}

// SuspendAll 挂起所有线程
func (c *Client) SuspendAll(ctx context.Context) error {
	_, err := c.send(ctx, constants.CommandSetVirtualMachine, constants.VMSuspend, nil)
	return err
}

// ResumeAll 恢复所有被调试器挂起的线程
func (c *Client) ResumeAll(ctx context.Context) error {
	_, err := c.send(ctx, constants.CommandSetVirtualMachine, constants.VMResume, nil)
	return err
}

// CreateString 在虚拟机里创建一个字符串对象
func (c *Client) CreateString(ctx context.Context, s string) (StringID, error) {
	w := c.writer()
	w.String(s)
	reply, err := c.send(ctx, constants.CommandSetVirtualMachine, constants.VMCreateString, w)
	if err != nil {
		return 0, err
	}
	r := c.reader(reply)
	id := StringID(r.ObjectID())
	return id, r.Err()
}

// IDSizes 查询各种id的字节数
func (c *Client) IDSizes(ctx context.Context) (IDSizes, error) {
	reply, err := c.send(ctx, constants.CommandSetVirtualMachine, constants.VMIDSizes, nil)
	if err != nil {
		return IDSizes{}, err
	}
	r := c.reader(reply)
	sizes := IDSizes{
		FieldIDSize:         r.Int32(),
		MethodIDSize:        r.Int32(),
		ObjectIDSize:        r.Int32(),
		ReferenceTypeIDSize: r.Int32(),
		FrameIDSize:         r.Int32(),
	}
	return sizes, r.Err()
}

// ---------------------------------------------------------------------------
// ReferenceType命令集

// Signature 查询引用类型的JNI签名
func (c *Client) Signature(ctx context.Context, refType ReferenceTypeID) (string, error) {
	w := c.writer()
	w.ReferenceTypeID(refType)
	reply, err := c.send(ctx, constants.CommandSetReferenceType, constants.RefTypeSignature, w)
	if err != nil {
		return "", err
	}
	r := c.reader(reply)
	signature := r.String()
	return signature, r.Err()
}

// Methods 列出引用类型声明的全部方法
func (c *Client) Methods(ctx context.Context, refType ReferenceTypeID) ([]MethodInfo, error) {
	w := c.writer()
	w.ReferenceTypeID(refType)
	reply, err := c.send(ctx, constants.CommandSetReferenceType, constants.RefTypeMethods, w)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	count := r.Uint32()
	methods := make([]MethodInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		methods = append(methods, MethodInfo{
			ID:        r.MethodID(),
			Name:      r.String(),
			Signature: r.String(),
			ModBits:   r.Int32(),
		})
	}
	return methods, r.Err()
}

// Fields 列出引用类型声明的全部字段
func (c *Client) Fields(ctx context.Context, refType ReferenceTypeID) ([]FieldInfo, error) {
	w := c.writer()
	w.ReferenceTypeID(refType)
	reply, err := c.send(ctx, constants.CommandSetReferenceType, constants.RefTypeFields, w)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	count := r.Uint32()
	fields := make([]FieldInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		fields = append(fields, FieldInfo{
			ID:        r.FieldID(),
			Name:      r.String(),
			Signature: r.String(),
			ModBits:   r.Int32(),
		})
	}
	return fields, r.Err()
}

// ---------------------------------------------------------------------------
// ClassType命令集

// Superclass 查询父类
func (c *Client) Superclass(ctx context.Context, class ClassID) (ClassID, error) {
	w := c.writer()
	w.ClassID(class)
	reply, err := c.send(ctx, constants.CommandSetClassType, constants.ClassTypeSuperclass, w)
	if err != nil {
		return 0, err
	}
	r := c.reader(reply)
	super := ClassID(r.ReferenceTypeID())
	return super, r.Err()
}

// InvokeStaticMethod 在指定线程上调用静态方法。
// 线程必须处于挂起状态；虚拟机执行完方法后会重新挂起它。
// 被调方法抛出的异常放在InvokeResult.Exception里返回，不会变成error。
func (c *Client) InvokeStaticMethod(ctx context.Context, class ClassID, thread ThreadID, method MethodID, args []TaggedValue, options uint32) (InvokeResult, error) {
	w := c.writer()
	w.ClassID(class)
	w.ThreadID(thread)
	w.MethodID(method)
	w.Uint32(uint32(len(args)))
	for _, arg := range args {
		w.TaggedValue(arg)
	}
	w.Uint32(options)
	reply, err := c.send(ctx, constants.CommandSetClassType, constants.ClassTypeInvokeMethod, w)
	if err != nil {
		return InvokeResult{}, err
	}
	r := c.reader(reply)
	result := InvokeResult{
		Result:    r.TaggedValue(),
		Exception: r.TaggedObjectID(),
	}
	return result, r.Err()
}

// ---------------------------------------------------------------------------
// ObjectReference命令集

// ReferenceType 查询对象的运行时类型
func (c *Client) ReferenceType(ctx context.Context, object ObjectID) (constants.TypeTag, ReferenceTypeID, error) {
	w := c.writer()
	w.ObjectID(object)
	reply, err := c.send(ctx, constants.CommandSetObjectReference, constants.ObjRefReferenceType, w)
	if err != nil {
		return 0, 0, err
	}
	r := c.reader(reply)
	typeTag := constants.TypeTag(r.Uint8())
	refType := r.ReferenceTypeID()
	return typeTag, refType, r.Err()
}

// GetFieldValues 批量读取对象的实例字段
func (c *Client) GetFieldValues(ctx context.Context, object ObjectID, fields []FieldID) ([]TaggedValue, error) {
	w := c.writer()
	w.ObjectID(object)
	w.Uint32(uint32(len(fields)))
	for _, field := range fields {
		w.FieldID(field)
	}
	reply, err := c.send(ctx, constants.CommandSetObjectReference, constants.ObjRefGetValues, w)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	count := r.Uint32()
	values := make([]TaggedValue, 0, count)
	for i := uint32(0); i < count; i++ {
		values = append(values, r.TaggedValue())
	}
	return values, r.Err()
}

// InvokeMethod 在指定线程上调用实例方法，约束与InvokeStaticMethod相同
func (c *Client) InvokeMethod(ctx context.Context, object ObjectID, thread ThreadID, class ClassID, method MethodID, args []TaggedValue, options uint32) (InvokeResult, error) {
	w := c.writer()
	w.ObjectID(object)
	w.ThreadID(thread)
	w.ClassID(class)
	w.MethodID(method)
	w.Uint32(uint32(len(args)))
	for _, arg := range args {
		w.TaggedValue(arg)
	}
	w.Uint32(options)
	reply, err := c.send(ctx, constants.CommandSetObjectReference, constants.ObjRefInvokeMethod, w)
	if err != nil {
		return InvokeResult{}, err
	}
	r := c.reader(reply)
	result := InvokeResult{
		Result:    r.TaggedValue(),
		Exception: r.TaggedObjectID(),
	}
	return result, r.Err()
}

// DisableCollection 阻止对象被GC回收，调试器持有对象id期间应当调用
func (c *Client) DisableCollection(ctx context.Context, object ObjectID) error {
	w := c.writer()
	w.ObjectID(object)
	_, err := c.send(ctx, constants.CommandSetObjectReference, constants.ObjRefDisableCollection, w)
	return err
}

// EnableCollection 恢复对象的GC
func (c *Client) EnableCollection(ctx context.Context, object ObjectID) error {
	w := c.writer()
	w.ObjectID(object)
	_, err := c.send(ctx, constants.CommandSetObjectReference, constants.ObjRefEnableCollection, w)
	return err
}

// ---------------------------------------------------------------------------
// StringReference命令集

// StringValue 取字符串对象的内容
func (c *Client) StringValue(ctx context.Context, id StringID) (string, error) {
	w := c.writer()
	w.ObjectID(ObjectID(id))
	reply, err := c.send(ctx, constants.CommandSetStringReference, constants.StringRefValue, w)
	if err != nil {
		return "", err
	}
	r := c.reader(reply)
	value := r.String()
	return value, r.Err()
}

// ---------------------------------------------------------------------------
// ArrayReference命令集

// ArrayLength 查询数组长度
func (c *Client) ArrayLength(ctx context.Context, array ArrayID) (int32, error) {
	w := c.writer()
	w.ObjectID(ObjectID(array))
	reply, err := c.send(ctx, constants.CommandSetArrayReference, constants.ArrayRefLength, w)
	if err != nil {
		return 0, err
	}
	r := c.reader(reply)
	length := r.Int32()
	return length, r.Err()
}

// ArrayValues 读取数组的一段元素。
// 回复是一个arrayregion：1字节元素tag加元素个数，基础类型的元素不带tag，
// 引用类型的元素逐个带tag。
func (c *Client) ArrayValues(ctx context.Context, array ArrayID, first int32, length int32) ([]TaggedValue, error) {
	w := c.writer()
	w.ObjectID(ObjectID(array))
	w.Int32(first)
	w.Int32(length)
	reply, err := c.send(ctx, constants.CommandSetArrayReference, constants.ArrayRefGetValues, w)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	tag := constants.Tag(r.Uint8())
	count := r.Uint32()
	values := make([]TaggedValue, 0, count)
	tagged := false
	switch tag {
	case constants.TagObject, constants.TagString, constants.TagThread, constants.TagThreadGroup,
		constants.TagClassLoader, constants.TagClassObject, constants.TagArray:
		tagged = true
	}
	for i := uint32(0); i < count; i++ {
		if tagged {
			values = append(values, r.TaggedValue())
		} else {
			values = append(values, r.UntaggedValue(tag))
		}
	}
	return values, r.Err()
}

// ---------------------------------------------------------------------------
// ThreadReference命令集

// ThreadName 查询线程名称
func (c *Client) ThreadName(ctx context.Context, thread ThreadID) (string, error) {
	w := c.writer()
	w.ThreadID(thread)
	reply, err := c.send(ctx, constants.CommandSetThreadReference, constants.ThreadRefName, w)
	if err != nil {
		return "", err
	}
	r := c.reader(reply)
	name := r.String()
	return name, r.Err()
}

// SuspendThread 挂起线程
func (c *Client) SuspendThread(ctx context.Context, thread ThreadID) error {
	w := c.writer()
	w.ThreadID(thread)
	_, err := c.send(ctx, constants.CommandSetThreadReference, constants.ThreadRefSuspend, w)
	return err
}

// ResumeThread 恢复线程
func (c *Client) ResumeThread(ctx context.Context, thread ThreadID) error {
	w := c.writer()
	w.ThreadID(thread)
	_, err := c.send(ctx, constants.CommandSetThreadReference, constants.ThreadRefResume, w)
	return err
}

// ThreadStatus 查询线程的运行状态和挂起状态
func (c *Client) ThreadStatus(ctx context.Context, thread ThreadID) (constants.ThreadStatus, int32, error) {
	w := c.writer()
	w.ThreadID(thread)
	reply, err := c.send(ctx, constants.CommandSetThreadReference, constants.ThreadRefStatus, w)
	if err != nil {
		return 0, 0, err
	}
	r := c.reader(reply)
	threadStatus := constants.ThreadStatus(r.Int32())
	suspendStatus := r.Int32()
	return threadStatus, suspendStatus, r.Err()
}

// SuspendCount 查询线程被挂起的次数
func (c *Client) SuspendCount(ctx context.Context, thread ThreadID) (int32, error) {
	w := c.writer()
	w.ThreadID(thread)
	reply, err := c.send(ctx, constants.CommandSetThreadReference, constants.ThreadRefSuspendCount, w)
	if err != nil {
		return 0, err
	}
	r := c.reader(reply)
	count := r.Int32()
	return count, r.Err()
}

// Frames 读取线程的栈帧，start从0（栈顶）开始，length为-1表示读到栈底。
// 只有挂起的线程才能读取栈帧。
func (c *Client) Frames(ctx context.Context, thread ThreadID, start int32, length int32) ([]FrameInfo, error) {
	w := c.writer()
	w.ThreadID(thread)
	w.Int32(start)
	w.Int32(length)
	reply, err := c.send(ctx, constants.CommandSetThreadReference, constants.ThreadRefFrames, w)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	count := r.Uint32()
	frames := make([]FrameInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		frames = append(frames, FrameInfo{
			Frame:    r.FrameID(),
			Location: r.Location(),
		})
	}
	return frames, r.Err()
}

// ---------------------------------------------------------------------------
// StackFrame命令集

// SlotRequest 读取局部变量时指定槽位和期望的类型tag
type SlotRequest struct {
	Slot int32
	Tag  constants.Tag
}

// FrameValues 按槽位读取栈帧里的局部变量
func (c *Client) FrameValues(ctx context.Context, thread ThreadID, frame FrameID, slots []SlotRequest) ([]TaggedValue, error) {
	w := c.writer()
	w.ThreadID(thread)
	w.FrameID(frame)
	w.Uint32(uint32(len(slots)))
	for _, slot := range slots {
		w.Int32(slot.Slot)
		w.Uint8(uint8(slot.Tag))
	}
	reply, err := c.send(ctx, constants.CommandSetStackFrame, constants.StackFrameGetValues, w)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	count := r.Uint32()
	values := make([]TaggedValue, 0, count)
	for i := uint32(0); i < count; i++ {
		values = append(values, r.TaggedValue())
	}
	return values, r.Err()
}

// ThisObject 查询栈帧的this对象，静态方法和native帧返回空对象
func (c *Client) ThisObject(ctx context.Context, thread ThreadID, frame FrameID) (TaggedObjectID, error) {
	w := c.writer()
	w.ThreadID(thread)
	w.FrameID(frame)
	reply, err := c.send(ctx, constants.CommandSetStackFrame, constants.StackFrameThisObject, w)
	if err != nil {
		return TaggedObjectID{}, err
	}
	r := c.reader(reply)
	this := r.TaggedObjectID()
	return this, r.Err()
}

// ---------------------------------------------------------------------------
// Method命令集

// VariableTable 查询方法的变量表，前ArgCount个槽位是方法参数
func (c *Client) VariableTable(ctx context.Context, refType ReferenceTypeID, method MethodID) (*VariableTable, error) {
	w := c.writer()
	w.ReferenceTypeID(refType)
	w.MethodID(method)
	reply, err := c.send(ctx, constants.CommandSetMethod, constants.MethodVariableTable, w)
	if err != nil {
		return nil, err
	}
	r := c.reader(reply)
	table := &VariableTable{
		ArgCount: r.Int32(),
	}
	count := r.Uint32()
	for i := uint32(0); i < count; i++ {
		table.Slots = append(table.Slots, FrameVariable{
			CodeIndex: r.Uint64(),
			Name:      r.String(),
			Signature: r.String(),
			Length:    r.Int32(),
			Slot:      r.Int32(),
		})
	}
	if err = r.Err(); err != nil {
		return nil, err
	}
	return table, nil
}

package jdwp

import (
	"fmt"

	"github.com/fansqz/jdwp-debugger/constants"
)

// 虚拟机中的各种id在协议上是不透明的整数，长度由IDSizes协商。
// 这里统一用uint64存储，不能假设值可以放进53位（见IDSizes.Check）。

// ObjectID 对象实例id，线程、字符串、数组等id都可以安全转换成ObjectID
type ObjectID uint64

// ThreadID 线程id
type ThreadID uint64

// StringID 字符串对象id
type StringID uint64

// ArrayID 数组对象id
type ArrayID uint64

// ReferenceTypeID 引用类型id
type ReferenceTypeID uint64

// ClassID 类id，可以安全转换成ReferenceTypeID
type ClassID uint64

// MethodID 方法id，只在所属的引用类型内唯一
type MethodID uint64

// FieldID 字段id，只在所属的引用类型内唯一
type FieldID uint64

// FrameID 栈帧id，只在线程挂起期间有效
type FrameID uint64

func (i ObjectID) String() string        { return fmt.Sprintf("ObjectID<%d>", uint64(i)) }
func (i ThreadID) String() string        { return fmt.Sprintf("ThreadID<%d>", uint64(i)) }
func (i StringID) String() string        { return fmt.Sprintf("StringID<%d>", uint64(i)) }
func (i ArrayID) String() string         { return fmt.Sprintf("ArrayID<%d>", uint64(i)) }
func (i ReferenceTypeID) String() string { return fmt.Sprintf("ReferenceTypeID<%d>", uint64(i)) }
func (i ClassID) String() string         { return fmt.Sprintf("ClassID<%d>", uint64(i)) }
func (i MethodID) String() string        { return fmt.Sprintf("MethodID<%d>", uint64(i)) }
func (i FieldID) String() string         { return fmt.Sprintf("FieldID<%d>", uint64(i)) }
func (i FrameID) String() string         { return fmt.Sprintf("FrameID<%d>", uint64(i)) }

// IDSizes 由VirtualMachine.IDSizes命令协商出来的各种id的字节数
type IDSizes struct {
	FieldIDSize         int32
	MethodIDSize        int32
	ObjectIDSize        int32
	ReferenceTypeIDSize int32
	FrameIDSize         int32
}

// DefaultIDSizes Android的ART虚拟机固定使用8字节id
var DefaultIDSizes = IDSizes{
	FieldIDSize:         8,
	MethodIDSize:        8,
	ObjectIDSize:        8,
	ReferenceTypeIDSize: 8,
	FrameIDSize:         8,
}

// Check 校验协商结果，超过8字节的id无法用uint64承载，直接拒绝
func (s IDSizes) Check() error {
	for _, size := range []int32{s.FieldIDSize, s.MethodIDSize, s.ObjectIDSize, s.ReferenceTypeIDSize, s.FrameIDSize} {
		if size < 1 || size > 8 {
			return fmt.Errorf("unsupported id size %d", size)
		}
	}
	return nil
}

// Location 代码位置，typeTag + 类id + 方法id + 字节码偏移
type Location struct {
	TypeTag constants.TypeTag
	Class   ClassID
	Method  MethodID
	Index   uint64
}

func (l Location) String() string {
	return fmt.Sprintf("Location<class=%d method=%d index=%d>", uint64(l.Class), uint64(l.Method), l.Index)
}

// TaggedValue 带类型标签的值，虚拟机返回变量、方法结果、数组元素都是这种形式。
// 基础类型放在Number里，引用类型放在Object里，浮点数也用Number存原始比特。
type TaggedValue struct {
	Tag    constants.Tag
	Number uint64
	Object ObjectID
}

// IsObject 判断是否为引用类型
func (v TaggedValue) IsObject() bool {
	switch v.Tag {
	case constants.TagObject, constants.TagString, constants.TagThread, constants.TagThreadGroup,
		constants.TagClassLoader, constants.TagClassObject, constants.TagArray:
		return true
	}
	return false
}

// Int 取整型值，带符号扩展
func (v TaggedValue) Int() int64 {
	switch v.Tag {
	case constants.TagByte, constants.TagBoolean:
		return int64(int8(v.Number))
	case constants.TagShort, constants.TagChar:
		return int64(int16(v.Number))
	case constants.TagInt:
		return int64(int32(v.Number))
	default:
		return int64(v.Number)
	}
}

func (v TaggedValue) String() string {
	if v.IsObject() {
		return fmt.Sprintf("TaggedValue<'%c' object=%d>", v.Tag, uint64(v.Object))
	}
	return fmt.Sprintf("TaggedValue<'%c' %d>", v.Tag, v.Number)
}

// NewObjectValue 构造引用类型的值
func NewObjectValue(tag constants.Tag, id ObjectID) TaggedValue {
	return TaggedValue{Tag: tag, Object: id}
}

// NewIntValue 构造int值
func NewIntValue(n int32) TaggedValue {
	return TaggedValue{Tag: constants.TagInt, Number: uint64(uint32(n))}
}

// TaggedObjectID 带类型标签的对象id
type TaggedObjectID struct {
	Tag    constants.Tag
	Object ObjectID
}

// ClassInfo ClassesBySignature返回的类信息
type ClassInfo struct {
	TypeTag   constants.TypeTag
	TypeID    ReferenceTypeID
	Status    constants.ClassStatus
	Signature string
}

// ClassID 类id就是引用类型id
func (c ClassInfo) ClassID() ClassID {
	return ClassID(c.TypeID)
}

// MethodInfo ReferenceType.Methods返回的方法信息
type MethodInfo struct {
	ID        MethodID
	Name      string
	Signature string
	ModBits   int32
}

// FieldInfo ReferenceType.Fields返回的字段信息
type FieldInfo struct {
	ID        FieldID
	Name      string
	Signature string
	ModBits   int32
}

// FrameInfo 单个栈帧
type FrameInfo struct {
	Frame    FrameID
	Location Location
}

// FrameVariable 变量表中的一个槽位
type FrameVariable struct {
	CodeIndex uint64
	Name      string
	Signature string
	Length    int32
	Slot      int32
}

// VariableTable 方法的变量表，前ArgCount个槽位是参数
type VariableTable struct {
	ArgCount int32
	Slots    []FrameVariable
}

// InvokeResult 方法调用的结果，被调方法抛出的异常通过Exception返回而不是error
type InvokeResult struct {
	Result    TaggedValue
	Exception TaggedObjectID
}

// VersionInfo VirtualMachine.Version的返回
type VersionInfo struct {
	Description string
	JDWPMajor   int32
	JDWPMinor   int32
	VMVersion   string
	VMName      string
}

package jdwp

import (
	"encoding/binary"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
)

// JDWP报文内的所有多字节整数都是大端序，字符串是u32长度加UTF-8内容。
// Reader和Writer按照协商出来的IDSizes读写各种id。

// Reader 从字节切片中顺序解码JDWP类型。
// 所有读取都不会越界，一旦出错后续读取全部失效，错误通过Err()取出。
type Reader struct {
	data  []byte
	off   int
	sizes IDSizes
	err   error
}

func NewReader(data []byte, sizes IDSizes) *Reader {
	return &Reader{data: data, sizes: sizes}
}

// Err 返回第一个解码错误
func (r *Reader) Err() error {
	return r.err
}

// Offset 当前读取位置
func (r *Reader) Offset() int {
	return r.off
}

// Remaining 剩余未读字节数
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = e.ErrMalformedPacket
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// String 读取u32长度前缀的UTF-8字符串
func (r *Reader) String() string {
	n := r.Uint32()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

// uintN 读取n字节的大端无符号整数，用于各种按IDSizes变长的id
func (r *Reader) uintN(n int32) uint64 {
	b := r.take(int(n))
	if b == nil {
		return 0
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

func (r *Reader) ObjectID() ObjectID {
	return ObjectID(r.uintN(r.sizes.ObjectIDSize))
}

func (r *Reader) ThreadID() ThreadID {
	return ThreadID(r.uintN(r.sizes.ObjectIDSize))
}

func (r *Reader) ReferenceTypeID() ReferenceTypeID {
	return ReferenceTypeID(r.uintN(r.sizes.ReferenceTypeIDSize))
}

func (r *Reader) MethodID() MethodID {
	return MethodID(r.uintN(r.sizes.MethodIDSize))
}

func (r *Reader) FieldID() FieldID {
	return FieldID(r.uintN(r.sizes.FieldIDSize))
}

func (r *Reader) FrameID() FrameID {
	return FrameID(r.uintN(r.sizes.FrameIDSize))
}

// Location 读取typeTag+classId+methodId+index
func (r *Reader) Location() Location {
	return Location{
		TypeTag: constants.TypeTag(r.Uint8()),
		Class:   ClassID(r.uintN(r.sizes.ReferenceTypeIDSize)),
		Method:  r.MethodID(),
		Index:   r.Uint64(),
	}
}

// TaggedObjectID 读取1字节tag加对象id
func (r *Reader) TaggedObjectID() TaggedObjectID {
	return TaggedObjectID{
		Tag:    constants.Tag(r.Uint8()),
		Object: r.ObjectID(),
	}
}

// TaggedValue 读取1字节tag，再按tag决定的长度读取值。
// 未知tag无法确定长度，必须报错，否则整个流都会解析错位。
func (r *Reader) TaggedValue() TaggedValue {
	tag := constants.Tag(r.Uint8())
	if r.err != nil {
		return TaggedValue{}
	}
	v := TaggedValue{Tag: tag}
	switch tag {
	case constants.TagVoid:
	case constants.TagByte, constants.TagBoolean:
		v.Number = uint64(r.Uint8())
	case constants.TagChar, constants.TagShort:
		v.Number = uint64(r.Uint16())
	case constants.TagInt, constants.TagFloat:
		v.Number = uint64(r.Uint32())
	case constants.TagLong, constants.TagDouble:
		v.Number = r.Uint64()
	case constants.TagObject, constants.TagString, constants.TagThread, constants.TagThreadGroup,
		constants.TagClassLoader, constants.TagClassObject, constants.TagArray:
		v.Object = r.ObjectID()
	default:
		r.err = e.ErrMalformedPacket
		return TaggedValue{}
	}
	return v
}

// UntaggedValue 读取没有前缀tag的值，数组元素在元素类型是基础类型时采用这种编码
func (r *Reader) UntaggedValue(tag constants.Tag) TaggedValue {
	v := TaggedValue{Tag: tag}
	switch tag {
	case constants.TagVoid:
	case constants.TagByte, constants.TagBoolean:
		v.Number = uint64(r.Uint8())
	case constants.TagChar, constants.TagShort:
		v.Number = uint64(r.Uint16())
	case constants.TagInt, constants.TagFloat:
		v.Number = uint64(r.Uint32())
	case constants.TagLong, constants.TagDouble:
		v.Number = r.Uint64()
	default:
		v.Object = r.ObjectID()
	}
	return v
}

// Writer 顺序编码JDWP类型
type Writer struct {
	buf   []byte
	sizes IDSizes
}

func NewWriter(sizes IDSizes) *Writer {
	return &Writer{sizes: sizes}
}

// Bytes 返回已编码内容
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len 已编码的字节数
func (w *Writer) Len() int {
	return len(w.buf)
}

func (w *Writer) Uint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) Uint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

func (w *Writer) Uint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

func (w *Writer) Uint64(v uint64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

// String 写入u32长度前缀的UTF-8字符串
func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) uintN(n int32, v uint64) {
	for i := n - 1; i >= 0; i-- {
		w.buf = append(w.buf, byte(v>>(uint(i)*8)))
	}
}

func (w *Writer) ObjectID(id ObjectID) {
	w.uintN(w.sizes.ObjectIDSize, uint64(id))
}

func (w *Writer) ThreadID(id ThreadID) {
	w.uintN(w.sizes.ObjectIDSize, uint64(id))
}

func (w *Writer) ReferenceTypeID(id ReferenceTypeID) {
	w.uintN(w.sizes.ReferenceTypeIDSize, uint64(id))
}

func (w *Writer) ClassID(id ClassID) {
	w.uintN(w.sizes.ReferenceTypeIDSize, uint64(id))
}

func (w *Writer) MethodID(id MethodID) {
	w.uintN(w.sizes.MethodIDSize, uint64(id))
}

func (w *Writer) FieldID(id FieldID) {
	w.uintN(w.sizes.FieldIDSize, uint64(id))
}

func (w *Writer) FrameID(id FrameID) {
	w.uintN(w.sizes.FrameIDSize, uint64(id))
}

func (w *Writer) Location(l Location) {
	w.Uint8(uint8(l.TypeTag))
	w.ClassID(l.Class)
	w.MethodID(l.Method)
	w.Uint64(l.Index)
}

// TaggedValue 写入1字节tag加值
func (w *Writer) TaggedValue(v TaggedValue) {
	w.Uint8(uint8(v.Tag))
	switch v.Tag {
	case constants.TagVoid:
	case constants.TagByte, constants.TagBoolean:
		w.Uint8(uint8(v.Number))
	case constants.TagChar, constants.TagShort:
		w.Uint16(uint16(v.Number))
	case constants.TagInt, constants.TagFloat:
		w.Uint32(uint32(v.Number))
	case constants.TagLong, constants.TagDouble:
		w.Uint64(v.Number)
	default:
		w.ObjectID(v.Object)
	}
}

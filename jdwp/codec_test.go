package jdwp

import (
	"testing"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/stretchr/testify/assert"
)

func TestCodec_Integers(t *testing.T) {
	w := NewWriter(DefaultIDSizes)
	w.Uint8(0xAB)
	w.Uint16(0x1234)
	w.Uint32(0xDEADBEEF)
	w.Uint64(0x0102030405060708)
	w.Int32(-5)

	r := NewReader(w.Bytes(), DefaultIDSizes)
	assert.Equal(t, uint8(0xAB), r.Uint8())
	assert.Equal(t, uint16(0x1234), r.Uint16())
	assert.Equal(t, uint32(0xDEADBEEF), r.Uint32())
	assert.Equal(t, uint64(0x0102030405060708), r.Uint64())
	assert.Equal(t, int32(-5), r.Int32())
	assert.Nil(t, r.Err())
	assert.Equal(t, 0, r.Remaining())
}

func TestCodec_String(t *testing.T) {
	w := NewWriter(DefaultIDSizes)
	w.String("Landroid/app/Activity;")
	w.String("")

	r := NewReader(w.Bytes(), DefaultIDSizes)
	assert.Equal(t, "Landroid/app/Activity;", r.String())
	assert.Equal(t, "", r.String())
	assert.Nil(t, r.Err())
}

// 截断的字符串必须报错，不能读越界
func TestCodec_TruncatedString(t *testing.T) {
	w := NewWriter(DefaultIDSizes)
	w.Uint32(100)
	w.Uint8('a')

	r := NewReader(w.Bytes(), DefaultIDSizes)
	_ = r.String()
	assert.ErrorIs(t, r.Err(), e.ErrMalformedPacket)
}

// id必须是完整的64位，高位不能丢
func TestCodec_IDs(t *testing.T) {
	w := NewWriter(DefaultIDSizes)
	w.ObjectID(0xFFFFFFFFFFFFFFFF)
	w.MethodID(0x8000000000000001)

	r := NewReader(w.Bytes(), DefaultIDSizes)
	assert.Equal(t, ObjectID(0xFFFFFFFFFFFFFFFF), r.ObjectID())
	assert.Equal(t, MethodID(0x8000000000000001), r.MethodID())
	assert.Nil(t, r.Err())
}

// id长度按IDSizes协商，4字节的profile也要能读写
func TestCodec_SmallIDSizes(t *testing.T) {
	sizes := IDSizes{
		FieldIDSize:         4,
		MethodIDSize:        4,
		ObjectIDSize:        4,
		ReferenceTypeIDSize: 4,
		FrameIDSize:         4,
	}
	w := NewWriter(sizes)
	w.ObjectID(0xCAFE)
	w.ReferenceTypeID(0xAA)
	assert.Equal(t, 8, w.Len())

	r := NewReader(w.Bytes(), sizes)
	assert.Equal(t, ObjectID(0xCAFE), r.ObjectID())
	assert.Equal(t, ReferenceTypeID(0xAA), r.ReferenceTypeID())
	assert.Nil(t, r.Err())
}

func TestCodec_Location(t *testing.T) {
	location := Location{
		TypeTag: constants.TypeTagClass,
		Class:   0xAA,
		Method:  0xBB,
		Index:   7,
	}
	w := NewWriter(DefaultIDSizes)
	w.Location(location)
	// Android的8字节id下Location固定25字节
	assert.Equal(t, 25, w.Len())

	r := NewReader(w.Bytes(), DefaultIDSizes)
	assert.Equal(t, location, r.Location())
	assert.Nil(t, r.Err())
}

// 每种tag的值编解码都要是恒等的
func TestCodec_TaggedValueRoundTrip(t *testing.T) {
	values := []TaggedValue{
		{Tag: constants.TagByte, Number: 0x7F},
		{Tag: constants.TagBoolean, Number: 1},
		{Tag: constants.TagChar, Number: 0x4E2D},
		{Tag: constants.TagShort, Number: 0x7FFF},
		{Tag: constants.TagInt, Number: 0x12345678},
		{Tag: constants.TagFloat, Number: 0x3F800000},
		{Tag: constants.TagLong, Number: 0x0102030405060708},
		{Tag: constants.TagDouble, Number: 0x3FF0000000000000},
		{Tag: constants.TagVoid},
		{Tag: constants.TagObject, Object: 0xCAFEBABE},
		{Tag: constants.TagString, Object: 0x1234},
		{Tag: constants.TagThread, Object: 0xCAFE},
		{Tag: constants.TagArray, Object: 0xFF},
	}
	for _, value := range values {
		w := NewWriter(DefaultIDSizes)
		w.TaggedValue(value)
		r := NewReader(w.Bytes(), DefaultIDSizes)
		assert.Equal(t, value, r.TaggedValue(), "tag %c", value.Tag)
		assert.Nil(t, r.Err())
		assert.Equal(t, 0, r.Remaining())
	}
}

// 未知tag无法确定长度，必须报错
func TestCodec_UnknownTag(t *testing.T) {
	r := NewReader([]byte{0xFF, 0x00}, DefaultIDSizes)
	r.TaggedValue()
	assert.ErrorIs(t, r.Err(), e.ErrMalformedPacket)
}

func TestCodec_SignedValues(t *testing.T) {
	v := TaggedValue{Tag: constants.TagInt, Number: uint64(uint32(0xFFFFFFFF))}
	assert.Equal(t, int64(-1), v.Int())
	v = TaggedValue{Tag: constants.TagByte, Number: 0x80}
	assert.Equal(t, int64(-128), v.Int())
}

// 出错之后的读取不能继续推进
func TestCodec_StickyError(t *testing.T) {
	r := NewReader([]byte{0x01}, DefaultIDSizes)
	r.Uint32()
	assert.NotNil(t, r.Err())
	assert.Equal(t, uint8(0), r.Uint8())
	assert.ErrorIs(t, r.Err(), e.ErrMalformedPacket)
}

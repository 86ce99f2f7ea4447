package jdwp

import (
	"encoding/binary"
	"testing"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/stretchr/testify/assert"
)

func TestPacket_CommandRoundTrip(t *testing.T) {
	packet := NewCommandPacket(42, constants.CommandSetVirtualMachine, constants.VMVersion, []byte{1, 2, 3})
	raw := packet.Encode()
	assert.Equal(t, HeaderSize+3, len(raw))
	assert.Equal(t, uint32(HeaderSize+3), binary.BigEndian.Uint32(raw[0:4]))

	decoded, err := DecodePacket(raw)
	assert.Nil(t, err)
	assert.False(t, decoded.IsReply())
	assert.Equal(t, uint32(42), decoded.ID)
	assert.Equal(t, constants.CommandSetVirtualMachine, decoded.CommandSet)
	assert.Equal(t, constants.VMVersion, decoded.Command)
	assert.Equal(t, []byte{1, 2, 3}, decoded.Data)
}

func TestPacket_ReplyRoundTrip(t *testing.T) {
	packet := &Packet{ID: 7, Flags: 0x80, ErrorCode: 0, Data: []byte{0xAA}}
	decoded, err := DecodePacket(packet.Encode())
	assert.Nil(t, err)
	assert.True(t, decoded.IsReply())
	assert.Equal(t, uint32(7), decoded.ID)
	assert.Equal(t, uint16(0), decoded.ErrorCode)
	assert.Equal(t, []byte{0xAA}, decoded.Data)
}

// length等于11的回复没有errorCode字段，按成功处理
func TestPacket_EmptyReply(t *testing.T) {
	raw := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(raw[0:4], HeaderSize)
	binary.BigEndian.PutUint32(raw[4:8], 9)
	raw[8] = 0x80

	decoded, err := DecodePacket(raw)
	assert.Nil(t, err)
	assert.True(t, decoded.IsReply())
	assert.Equal(t, uint16(0), decoded.ErrorCode)
	assert.Empty(t, decoded.Data)
}

// length等于13且errorCode非0的回复要把错误码带出来
func TestPacket_ErrorReply(t *testing.T) {
	packet := &Packet{ID: 3, Flags: 0x80, ErrorCode: constants.ErrorVMDead}
	raw := packet.Encode()
	assert.Equal(t, HeaderSize+2, len(raw))

	decoded, err := DecodePacket(raw)
	assert.Nil(t, err)
	assert.Equal(t, uint16(constants.ErrorVMDead), decoded.ErrorCode)
}

func TestPacket_TooShort(t *testing.T) {
	_, err := DecodePacket([]byte{0, 0, 0, 5})
	assert.ErrorIs(t, err, e.ErrMalformedPacket)

	// length声明比11小
	raw := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(raw[0:4], 5)
	_, err = DecodePacket(raw)
	assert.ErrorIs(t, err, e.ErrMalformedPacket)
}

// 回复报文errorCode字段只有1个字节是非法的
func TestPacket_TruncatedErrorCode(t *testing.T) {
	raw := make([]byte, HeaderSize+1)
	binary.BigEndian.PutUint32(raw[0:4], HeaderSize+1)
	raw[8] = 0x80
	_, err := DecodePacket(raw)
	assert.ErrorIs(t, err, e.ErrMalformedPacket)
}

package jdwp

import (
	"encoding/binary"
	"fmt"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
)

// JDWP报文头固定11字节：
//
//	length     uint32  包含报文头在内的总长度
//	id         uint32  命令方选择，回复时原样带回
//	flags      uint8   0表示命令，0x80表示回复
//	commandSet uint8   命令集（回复报文里这两个字节是errorCode）
//	command    uint8
const (
	HeaderSize = 11

	flagReply uint8 = 0x80
)

// Packet 一个完整的JDWP报文
type Packet struct {
	ID         uint32
	Flags      uint8
	CommandSet constants.CommandSet
	Command    uint8
	// ErrorCode 只在回复报文中有效
	ErrorCode uint16
	// Data 报文头（和回复的errorCode）之后的内容
	Data []byte
}

// IsReply 是否为回复报文
func (p *Packet) IsReply() bool {
	return p.Flags&flagReply != 0
}

func (p *Packet) String() string {
	if p.IsReply() {
		return fmt.Sprintf("Reply<id=%d err=%d len=%d>", p.ID, p.ErrorCode, len(p.Data))
	}
	return fmt.Sprintf("Command<id=%d set=%d cmd=%d len=%d>", p.ID, p.CommandSet, p.Command, len(p.Data))
}

// NewCommandPacket 构造命令报文
func NewCommandPacket(id uint32, set constants.CommandSet, command uint8, data []byte) *Packet {
	return &Packet{
		ID:         id,
		CommandSet: set,
		Command:    command,
		Data:       data,
	}
}

// Encode 编码成线上格式
func (p *Packet) Encode() []byte {
	payload := p.Data
	if p.IsReply() && (p.ErrorCode != 0 || len(p.Data) > 0) {
		payload = make([]byte, 2+len(p.Data))
		binary.BigEndian.PutUint16(payload, p.ErrorCode)
		copy(payload[2:], p.Data)
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(HeaderSize+len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], p.ID)
	buf[8] = p.Flags
	if !p.IsReply() {
		buf[9] = uint8(p.CommandSet)
		buf[10] = p.Command
	}
	return append(buf, payload...)
}

// DecodePacket 解码一个完整报文，buf的长度必须正好等于报文头声明的length。
// 回复报文的payload前两个字节是errorCode；length等于11的回复没有errorCode字段，视为成功。
func DecodePacket(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, e.ErrMalformedPacket
	}
	length := binary.BigEndian.Uint32(buf[0:4])
	if length < HeaderSize || int(length) != len(buf) {
		return nil, e.ErrMalformedPacket
	}
	p := &Packet{
		ID:    binary.BigEndian.Uint32(buf[4:8]),
		Flags: buf[8],
	}
	if p.IsReply() {
		// 回复报文的payload以2字节errorCode开头；length等于11时没有errorCode字段，视为成功
		if len(buf) > HeaderSize {
			if len(buf) < HeaderSize+2 {
				return nil, e.ErrMalformedPacket
			}
			p.ErrorCode = binary.BigEndian.Uint16(buf[HeaderSize : HeaderSize+2])
			p.Data = buf[HeaderSize+2:]
		}
		return p, nil
	}
	p.CommandSet = constants.CommandSet(buf[9])
	p.Command = buf[10]
	p.Data = buf[HeaderSize:]
	return p, nil
}

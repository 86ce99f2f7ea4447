package jdwp

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/fansqz/jdwp-debugger/constants"
)

// mockVM 测试用的假虚拟机，完成握手后按注册的handler回复命令，
// 也可以主动推送事件。跑在自己的协程上，通过net.Pipe和被测代码相连。
type mockVM struct {
	t    *testing.T
	conn net.Conn

	mutex    sync.Mutex
	handlers map[uint16]func(command *Packet) *Packet
	received []*Packet
}

func commandKey(set constants.CommandSet, command uint8) uint16 {
	return uint16(set)<<8 | uint16(command)
}

// newMockVM 返回假虚拟机和给被测代码用的客户端连接。
// 默认注册了IDSizes的handler，返回Android的8字节profile。
func newMockVM(t *testing.T) (*mockVM, net.Conn) {
	client, server := net.Pipe()
	vm := &mockVM{
		t:        t,
		conn:     server,
		handlers: make(map[uint16]func(command *Packet) *Packet),
	}
	vm.handle(constants.CommandSetVirtualMachine, constants.VMIDSizes, func(command *Packet) *Packet {
		w := NewWriter(DefaultIDSizes)
		for i := 0; i < 5; i++ {
			w.Int32(8)
		}
		return vm.reply(command, 0, w.Bytes())
	})
	go vm.run()
	return vm, client
}

func (vm *mockVM) handle(set constants.CommandSet, command uint8, handler func(command *Packet) *Packet) {
	vm.mutex.Lock()
	vm.handlers[commandKey(set, command)] = handler
	vm.mutex.Unlock()
}

// reply 构造一条对command的回复
func (vm *mockVM) reply(command *Packet, errorCode uint16, data []byte) *Packet {
	return &Packet{ID: command.ID, Flags: 0x80, ErrorCode: errorCode, Data: data}
}

// okReply 空payload的成功回复
func (vm *mockVM) okReply(command *Packet) *Packet {
	return vm.reply(command, 0, nil)
}

// commands 按到达顺序返回收到的命令
func (vm *mockVM) commands() []*Packet {
	vm.mutex.Lock()
	defer vm.mutex.Unlock()
	out := make([]*Packet, len(vm.received))
	copy(out, vm.received)
	return out
}

// sendComposite 主动推送一个Composite事件包
func (vm *mockVM) sendComposite(payload []byte) {
	packet := NewCommandPacket(0, constants.CommandSetEvent, constants.EventComposite, payload)
	vm.conn.Write(packet.Encode())
}

// close 模拟虚拟机断开
func (vm *mockVM) close() {
	vm.conn.Close()
}

func (vm *mockVM) run() {
	// 握手
	buf := make([]byte, 14)
	if _, err := io.ReadFull(vm.conn, buf); err != nil {
		return
	}
	if _, err := vm.conn.Write([]byte("JDWP-Handshake")); err != nil {
		return
	}

	for {
		header := make([]byte, 4)
		if _, err := io.ReadFull(vm.conn, header); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(header)
		if length < HeaderSize {
			return
		}
		raw := make([]byte, length)
		copy(raw, header)
		if _, err := io.ReadFull(vm.conn, raw[4:]); err != nil {
			return
		}
		command, err := DecodePacket(raw)
		if err != nil {
			return
		}

		vm.mutex.Lock()
		vm.received = append(vm.received, command)
		handler := vm.handlers[commandKey(command.CommandSet, command.Command)]
		vm.mutex.Unlock()

		if handler == nil {
			// 没有handler的命令不回复，用于模拟超时
			continue
		}
		reply := handler(command)
		if reply == nil {
			continue
		}
		if _, err = vm.conn.Write(reply.Encode()); err != nil {
			return
		}
	}
}

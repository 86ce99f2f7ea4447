package debugger

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/fansqz/jdwp-debugger/constants"
	"github.com/fansqz/jdwp-debugger/jdwp"
)

// mockVM 假虚拟机，按handler回复命令，可以主动推事件。
// attach需要的IDSizes、线程事件请求和AllThreads都有默认handler。
type mockVM struct {
	t    *testing.T
	conn net.Conn

	mutex    sync.Mutex
	handlers map[uint16]func(command *jdwp.Packet) *jdwp.Packet
	received []*jdwp.Packet
	// nextRequestID EventRequest.Set默认handler分配的请求id
	nextRequestID uint32
}

func commandKey(set constants.CommandSet, command uint8) uint16 {
	return uint16(set)<<8 | uint16(command)
}

func newMockVM(t *testing.T) (*mockVM, net.Conn) {
	client, server := net.Pipe()
	vm := &mockVM{
		t:             t,
		conn:          server,
		handlers:      make(map[uint16]func(command *jdwp.Packet) *jdwp.Packet),
		nextRequestID: 100,
	}
	vm.handle(constants.CommandSetVirtualMachine, constants.VMIDSizes, func(command *jdwp.Packet) *jdwp.Packet {
		w := jdwp.NewWriter(jdwp.DefaultIDSizes)
		for i := 0; i < 5; i++ {
			w.Int32(8)
		}
		return vm.reply(command, 0, w.Bytes())
	})
	vm.handle(constants.CommandSetEventRequest, constants.EventRequestSet, func(command *jdwp.Packet) *jdwp.Packet {
		w := jdwp.NewWriter(jdwp.DefaultIDSizes)
		vm.mutex.Lock()
		id := vm.nextRequestID
		vm.nextRequestID++
		vm.mutex.Unlock()
		w.Uint32(id)
		return vm.reply(command, 0, w.Bytes())
	})
	vm.handle(constants.CommandSetVirtualMachine, constants.VMAllThreads, func(command *jdwp.Packet) *jdwp.Packet {
		w := jdwp.NewWriter(jdwp.DefaultIDSizes)
		w.Uint32(1)
		w.ThreadID(0xCAFE)
		return vm.reply(command, 0, w.Bytes())
	})
	// 会话收尾会清断点、恢复线程，默认直接成功
	vm.handle(constants.CommandSetEventRequest, constants.EventRequestClear, func(command *jdwp.Packet) *jdwp.Packet {
		return vm.okReply(command)
	})
	vm.handle(constants.CommandSetThreadReference, constants.ThreadRefResume, func(command *jdwp.Packet) *jdwp.Packet {
		return vm.okReply(command)
	})
	go vm.run()
	return vm, client
}

func (vm *mockVM) handle(set constants.CommandSet, command uint8, handler func(command *jdwp.Packet) *jdwp.Packet) {
	vm.mutex.Lock()
	vm.handlers[commandKey(set, command)] = handler
	vm.mutex.Unlock()
}

func (vm *mockVM) reply(command *jdwp.Packet, errorCode uint16, data []byte) *jdwp.Packet {
	return &jdwp.Packet{ID: command.ID, Flags: 0x80, ErrorCode: errorCode, Data: data}
}

func (vm *mockVM) okReply(command *jdwp.Packet) *jdwp.Packet {
	return vm.reply(command, 0, nil)
}

// commands 按到达顺序返回收到的命令
func (vm *mockVM) commands() []*jdwp.Packet {
	vm.mutex.Lock()
	defer vm.mutex.Unlock()
	out := make([]*jdwp.Packet, len(vm.received))
	copy(out, vm.received)
	return out
}

// sendComposite 主动推送Composite事件包
func (vm *mockVM) sendComposite(payload []byte) {
	packet := jdwp.NewCommandPacket(0, constants.CommandSetEvent, constants.EventComposite, payload)
	vm.conn.Write(packet.Encode())
}

// sendBreakpointHit 推送一条断点命中事件
func (vm *mockVM) sendBreakpointHit(requestID uint32, thread jdwp.ThreadID, location jdwp.Location) {
	w := jdwp.NewWriter(jdwp.DefaultIDSizes)
	w.Uint8(uint8(constants.SuspendPolicyAll))
	w.Uint32(1)
	w.Uint8(uint8(constants.EventKindBreakpoint))
	w.Uint32(requestID)
	w.ThreadID(thread)
	w.Location(location)
	vm.sendComposite(w.Bytes())
}

// sendVMDeath 推送VM_DEATH
func (vm *mockVM) sendVMDeath() {
	w := jdwp.NewWriter(jdwp.DefaultIDSizes)
	w.Uint8(uint8(constants.SuspendPolicyNone))
	w.Uint32(1)
	w.Uint8(uint8(constants.EventKindVMDeath))
	w.Uint32(0)
	vm.sendComposite(w.Bytes())
}

func (vm *mockVM) close() {
	vm.conn.Close()
}

func (vm *mockVM) run() {
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
		if length < jdwp.HeaderSize {
			return
		}
		raw := make([]byte, length)
		copy(raw, header)
		if _, err := io.ReadFull(vm.conn, raw[4:]); err != nil {
			return
		}
		command, err := jdwp.DecodePacket(raw)
		if err != nil {
			return
		}

		vm.mutex.Lock()
		vm.received = append(vm.received, command)
		handler := vm.handlers[commandKey(command.CommandSet, command.Command)]
		vm.mutex.Unlock()

		if handler == nil {
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

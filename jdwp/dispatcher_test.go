package jdwp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fansqz/jdwp-debugger/constants"
	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/stretchr/testify/assert"
)

func newTestDispatcher(t *testing.T) (*mockVM, *Dispatcher) {
	vm, client := newMockVM(t)
	conn, err := NewPacketConn(client)
	assert.Nil(t, err)
	return vm, NewDispatcher(conn)
}

func TestDispatcher_SendAndReply(t *testing.T) {
	vm, dispatcher := newTestDispatcher(t)
	defer dispatcher.Close()
	vm.handle(constants.CommandSetVirtualMachine, constants.VMVersion, func(command *Packet) *Packet {
		return vm.reply(command, 0, []byte{0xAB})
	})

	reply, err := dispatcher.Send(context.Background(), constants.CommandSetVirtualMachine, constants.VMVersion, nil)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0xAB}, reply.Data)
}

// errorCode非0的回复转成ProtocolError
func TestDispatcher_ErrorReply(t *testing.T) {
	vm, dispatcher := newTestDispatcher(t)
	defer dispatcher.Close()
	vm.handle(constants.CommandSetVirtualMachine, constants.VMResume, func(command *Packet) *Packet {
		return vm.reply(command, constants.ErrorInvalidThread, nil)
	})

	_, err := dispatcher.Send(context.Background(), constants.CommandSetVirtualMachine, constants.VMResume, nil)
	var protocolError *e.ProtocolError
	assert.ErrorAs(t, err, &protocolError)
	assert.Equal(t, constants.ErrorInvalidThread, protocolError.Code)
}

// 并发请求的报文id不能重复
func TestDispatcher_UniqueIDs(t *testing.T) {
	vm, dispatcher := newTestDispatcher(t)
	defer dispatcher.Close()
	vm.handle(constants.CommandSetVirtualMachine, constants.VMVersion, func(command *Packet) *Packet {
		return vm.okReply(command)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dispatcher.Send(context.Background(), constants.CommandSetVirtualMachine, constants.VMVersion, nil)
			assert.Nil(t, err)
		}()
	}
	wg.Wait()

	seen := make(map[uint32]bool)
	for _, command := range vm.commands() {
		assert.False(t, seen[command.ID], "duplicate packet id %d", command.ID)
		seen[command.ID] = true
	}
}

// 没有回复的命令超时失败，迟到的回复被丢弃不会崩
func TestDispatcher_Timeout(t *testing.T) {
	vm, dispatcher := newTestDispatcher(t)
	defer dispatcher.Close()
	dispatcher.Timeout = 50 * time.Millisecond

	commandChannel := make(chan *Packet, 1)
	vm.handle(constants.CommandSetVirtualMachine, constants.VMSuspend, func(command *Packet) *Packet {
		commandChannel <- command
		// 先不回复
		return nil
	})

	_, err := dispatcher.Send(context.Background(), constants.CommandSetVirtualMachine, constants.VMSuspend, nil)
	assert.ErrorIs(t, err, e.ErrTimeout)

	// 超时之后再回复
	lateCommand := <-commandChannel
	vm.conn.Write(vm.okReply(lateCommand).Encode())
	time.Sleep(50 * time.Millisecond)

	// 连接还活着，后续命令正常
	vm.handle(constants.CommandSetVirtualMachine, constants.VMVersion, func(command *Packet) *Packet {
		return vm.okReply(command)
	})
	_, err = dispatcher.Send(context.Background(), constants.CommandSetVirtualMachine, constants.VMVersion, nil)
	assert.Nil(t, err)
}

// 连接断开时所有等待中的请求立刻失败，之后的发送直接拒绝
func TestDispatcher_Disconnect(t *testing.T) {
	vm, dispatcher := newTestDispatcher(t)
	dispatcher.Timeout = 5 * time.Second

	done := make(chan error, 1)
	go func() {
		_, err := dispatcher.Send(context.Background(), constants.CommandSetVirtualMachine, constants.VMSuspend, nil)
		done <- err
	}()
	// 等请求挂起后断开
	time.Sleep(50 * time.Millisecond)
	vm.close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, e.ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("pending request was not rejected")
	}

	_, err := dispatcher.Send(context.Background(), constants.CommandSetVirtualMachine, constants.VMVersion, nil)
	assert.ErrorIs(t, err, e.ErrTransportClosed)
}

// VM_DEATH事件先送达订阅者，然后会话终止、等待者全部失败
func TestDispatcher_VMDeath(t *testing.T) {
	vm, dispatcher := newTestDispatcher(t)
	dispatcher.Timeout = 5 * time.Second

	deathChannel := make(chan struct{}, 1)
	dispatcher.OnEvent(0, func(event Event, policy constants.SuspendPolicy) {
		if event.Kind() == constants.EventKindVMDeath {
			deathChannel <- struct{}{}
		}
	})
	disconnected := make(chan error, 1)
	dispatcher.OnDisconnect(func(err error) {
		disconnected <- err
	})

	pending := make(chan error, 1)
	go func() {
		_, err := dispatcher.Send(context.Background(), constants.CommandSetVirtualMachine, constants.VMSuspend, nil)
		pending <- err
	}()
	time.Sleep(50 * time.Millisecond)

	w := NewWriter(DefaultIDSizes)
	w.Uint8(uint8(constants.SuspendPolicyNone))
	w.Uint32(1)
	w.Uint8(uint8(constants.EventKindVMDeath))
	w.Uint32(0)
	vm.sendComposite(w.Bytes())

	select {
	case <-deathChannel:
	case <-time.After(time.Second):
		t.Fatal("vm death event not delivered")
	}
	select {
	case err := <-pending:
		assert.ErrorIs(t, err, e.ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("pending request not rejected after vm death")
	}
	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback not fired")
	}
}

// 同一个Composite包里的事件按线上顺序送达
func TestDispatcher_EventOrder(t *testing.T) {
	vm, dispatcher := newTestDispatcher(t)
	defer dispatcher.Close()

	var mutex sync.Mutex
	var order []ThreadID
	done := make(chan struct{})
	dispatcher.OnEvent(0, func(event Event, policy constants.SuspendPolicy) {
		if ev, ok := event.(EventThreadStart); ok {
			mutex.Lock()
			order = append(order, ev.ThreadID())
			if len(order) == 3 {
				close(done)
			}
			mutex.Unlock()
		}
	})

	w := NewWriter(DefaultIDSizes)
	w.Uint8(uint8(constants.SuspendPolicyNone))
	w.Uint32(3)
	for _, tid := range []ThreadID{1, 2, 3} {
		w.Uint8(uint8(constants.EventKindThreadStart))
		w.Uint32(0)
		w.ThreadID(tid)
	}
	vm.sendComposite(w.Bytes())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events not delivered")
	}
	assert.Equal(t, []ThreadID{1, 2, 3}, order)
}

// 精确订阅者和通配订阅者只会有一个收到事件
func TestDispatcher_SpecificBeforeWildcard(t *testing.T) {
	vm, dispatcher := newTestDispatcher(t)
	defer dispatcher.Close()

	specific := make(chan Event, 1)
	wildcard := make(chan Event, 1)
	dispatcher.OnEvent(7, func(event Event, policy constants.SuspendPolicy) {
		specific <- event
	})
	dispatcher.OnEvent(0, func(event Event, policy constants.SuspendPolicy) {
		wildcard <- event
	})

	w := NewWriter(DefaultIDSizes)
	w.Uint8(uint8(constants.SuspendPolicyAll))
	w.Uint32(1)
	w.Uint8(uint8(constants.EventKindBreakpoint))
	w.Uint32(7)
	w.ThreadID(0xCAFE)
	w.Location(Location{TypeTag: constants.TypeTagClass, Class: 0xAA, Method: 0xBB, Index: 0})
	vm.sendComposite(w.Bytes())

	select {
	case event := <-specific:
		assert.Equal(t, constants.EventKindBreakpoint, event.Kind())
	case <-time.After(time.Second):
		t.Fatal("specific subscriber not invoked")
	}
	select {
	case <-wildcard:
		t.Fatal("wildcard should not fire when a specific subscriber exists")
	case <-time.After(50 * time.Millisecond):
	}
}

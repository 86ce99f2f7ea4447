package main

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/fansqz/jdwp-debugger/adb"
	"github.com/fansqz/jdwp-debugger/debugger"
	"github.com/fansqz/jdwp-debugger/utils"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

const (
	// IdleTimeout 客户端长时间没有请求时回收连接和会话
	IdleTimeout = 10 * time.Minute
)

// handleConnection handles a connection from a single client.
// It reads and decodes the incoming data and dispatches it
// to per-request processing, and launches the sender goroutine
// to send resulting messages over the connection back to the client.
func handleConnection(conn net.Conn, adbClient *adb.Client, manager *debugger.SessionManager) {
	// 创建调试session
	debugSession := DAPSession{
		id:        utils.GetUUID(),
		conn:      conn,
		adbClient: adbClient,
		manager:   manager,
		rw:        bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		sendQueue: make(chan dap.Message, 16),
		handles:   newHandleMap(),
		idle:      utils.NewTimeoutManager(),
	}
	go debugSession.sendFromQueue()
	// 空闲超时后关掉连接，读取循环随之退出并清理会话
	debugSession.idle.Start(context.Background(), IdleTimeout, func() {
		logrus.Infof("[DAPSession] idle timeout, session = %s", debugSession.id)
		conn.Close()
	})

	for {
		err := debugSession.handleRequest()
		if err != nil {
			if err == io.EOF {
				logrus.Infof("[DAPSession] client closed connection, session = %s", debugSession.id)
				break
			}
			logrus.Errorf("[DAPSession] server error, session = %s, err = %v", debugSession.id, err)
			break
		}
	}

	debugSession.idle.Cancel()
	debugSession.close()
	close(debugSession.sendQueue)
	conn.Close()
}

// DAPSession 一个DAP客户端连接，把DAP请求桥接到调试会话上
type DAPSession struct {
	id   string
	conn net.Conn
	// rw is used to read requests and write events/responses
	rw *bufio.ReadWriter

	adbClient *adb.Client
	manager   *debugger.SessionManager

	// session 当前连接附着的调试会话
	session *debugger.Session
	pid     int

	// sendQueue is used to capture messages from multiple request
	// processing goroutines while writing them to the client connection
	// from a single goroutine via sendFromQueue.
	sendQueue chan dap.Message

	// handles 把对象引用、栈帧映射成DAP要求的小整数
	handles *handleMap

	// idle 空闲回收计时器，每处理一个请求重置一次
	idle *utils.TimeoutManager
}

func (d *DAPSession) handleRequest() error {
	request, err := dap.ReadProtocolMessage(d.rw.Reader)
	if err != nil {
		return err
	}
	d.idle.Reset()
	d.dispatchRequest(request)
	return nil
}

// send 把消息塞进发送队列
func (d *DAPSession) send(message dap.Message) {
	defer func() {
		// 连接断开后队列已经close，事件丢弃即可
		if r := recover(); r != nil {
			logrus.Warnf("[DAPSession] drop message after close")
		}
	}()
	d.sendQueue <- message
}

// sendFromQueue 单协程串行写出，避免多请求并发写坏连接
func (d *DAPSession) sendFromQueue() {
	for message := range d.sendQueue {
		if err := dap.WriteProtocolMessage(d.rw.Writer, message); err != nil {
			logrus.Errorf("[DAPSession] write message fail, err = %v", err)
			return
		}
		d.rw.Writer.Flush()
	}
}

// close 连接断开时结束调试会话
func (d *DAPSession) close() {
	if d.session != nil {
		if err := d.manager.StopDebugging(context.Background(), d.pid); err != nil {
			logrus.Warnf("[DAPSession] stop debugging fail, err = %v", err)
		}
		d.session = nil
	}
}

// ---------------------------------------------------------------------------
// handle管理，DAP的variablesReference和frameId都要求是小整数

type handleKind int

const (
	handleFrame handleKind = iota
	handleObject
	handleArray
)

type handle struct {
	kind   handleKind
	thread uint64
	frame  uint64
	object uint64
}

type handleMap struct {
	mutex   sync.Mutex
	next    int
	handles map[int]handle
}

func newHandleMap() *handleMap {
	return &handleMap{
		next:    1,
		handles: make(map[int]handle),
	}
}

func (m *handleMap) add(h handle) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	id := m.next
	m.next++
	m.handles[id] = h
	return id
}

func (m *handleMap) get(id int) (handle, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	h, ok := m.handles[id]
	return h, ok
}

// reset 线程恢复运行后旧的引用全部失效
func (m *handleMap) reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.handles = make(map[int]handle)
}

// ---------------------------------------------------------------------------
// DAP消息构造

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    command,
		RequestSeq: requestSeq,
		Success:    true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Body.Error = &dap.ErrorMessage{}
	er.Body.Error.Format = message
	er.Body.Error.Id = 12345
	return er
}

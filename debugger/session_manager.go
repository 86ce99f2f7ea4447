package debugger

import (
	"context"
	"io"
	"sync"

	e "github.com/fansqz/jdwp-debugger/error"
)

// SessionManager 按pid管理调试会话，同一个pid只允许一个会话
type SessionManager struct {
	mutex    sync.Mutex
	sessions map[int]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[int]*Session),
	}
}

// StartDebugging 为pid创建会话，pid已有会话时返回ErrDuplicateSession
func (m *SessionManager) StartDebugging(ctx context.Context, transport io.ReadWriteCloser, pid int, packageName string, callback NotificationCallback) (*Session, error) {
	m.mutex.Lock()
	if _, ok := m.sessions[pid]; ok {
		m.mutex.Unlock()
		return nil, e.ErrDuplicateSession
	}
	m.mutex.Unlock()

	session, err := Attach(ctx, transport, pid, packageName, callback)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	// attach期间可能有并发的StartDebugging，以先登记的为准
	if _, ok := m.sessions[pid]; ok {
		m.mutex.Unlock()
		session.Stop(ctx)
		return nil, e.ErrDuplicateSession
	}
	m.sessions[pid] = session
	m.mutex.Unlock()
	return session, nil
}

// StopDebugging 结束pid的会话，没有会话时直接返回，可以重复调用
func (m *SessionManager) StopDebugging(ctx context.Context, pid int) error {
	m.mutex.Lock()
	session, ok := m.sessions[pid]
	delete(m.sessions, pid)
	m.mutex.Unlock()
	if !ok {
		return nil
	}
	return session.Stop(ctx)
}

// GetSession 取pid的会话
func (m *SessionManager) GetSession(pid int) (*Session, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	session, ok := m.sessions[pid]
	return session, ok
}

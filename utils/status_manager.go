package utils

import "sync"

const (
	// Init 会话创建但还没完成attach
	Init = "Init"
	// Attached 已经连接到虚拟机
	Attached = "attached"
	// Stopped 至少有一个线程被调试器挂起
	Stopped = "stopped"
	// Finish 会话已结束
	Finish = "finish"
)

// StatusManager 记录调试会话的状态的
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Init,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}

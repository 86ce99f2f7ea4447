package utils

import (
	"context"
	"time"

	"github.com/fansqz/jdwp-debugger/utils/gosync"
	"github.com/sirupsen/logrus"
)

// TimeoutManager 一个计时器
// 如果在timeout时间内没有执行Reset命令，就会执行fun函数。
// 服务端用它回收长时间没有请求的调试会话。
type TimeoutManager struct {
	timer         *time.Timer
	timeout       time.Duration
	resetChannel  chan bool
	cancelChannel chan bool
	fun           func()
}

// NewTimeoutManager 创建一个新的计时器实例
func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{}
}

// Start 开始计时
// 在timeout时间内没有执行Reset命令，就会执行option函数
func (t *TimeoutManager) Start(ctx context.Context, timeout time.Duration, option func()) {
	t.timer = time.NewTimer(timeout)
	t.timeout = timeout
	t.fun = option
	// 带缓冲，计时器到期退出后Reset和Cancel不会卡住调用方
	t.resetChannel = make(chan bool, 1)
	t.cancelChannel = make(chan bool, 1)
	gosync.Go(ctx, func(ctx context.Context) {
		for {
			select {
			case <-t.timer.C:
				logrus.Infof("[TimeoutManager] timer expired, performing action")
				t.fun()
				return
			case <-t.resetChannel:
				if !t.timer.Stop() {
					<-t.timer.C
				}
				t.timer.Reset(t.timeout)
			case <-t.cancelChannel:
				if !t.timer.Stop() {
					select {
					case <-t.timer.C:
					default:
					}
				}
				return
			}
		}
	})
}

// Reset 重置计时器
func (t *TimeoutManager) Reset() {
	select {
	case t.resetChannel <- true:
	default:
	}
}

// Cancel 取消计时
func (t *TimeoutManager) Cancel() {
	select {
	case t.cancelChannel <- true:
	default:
	}
}

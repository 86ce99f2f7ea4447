package debugger

import (
	"github.com/fansqz/jdwp-debugger/constants"
	"github.com/fansqz/jdwp-debugger/jdwp"
)

// NotificationCallback 会话产生事件时触发该回调
type NotificationCallback func(event interface{})

// Breakpoint 会话登记的一个断点。
// 只有虚拟机确认了EventRequest.Set之后才会创建记录。
type Breakpoint struct {
	RequestID      uint32
	Location       jdwp.Location
	ClassSignature string
	MethodName     string
	Enabled        bool
	HitCount       int
}

// ThreadInfo 会话已知的线程
type ThreadInfo struct {
	ID   jdwp.ThreadID
	Name string
}

// Variable 变量的展示形式。
// 基础类型直接带值，字符串取内容，数组和对象给出引用id供进一步查看。
type Variable struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
	// Reference 对象引用id，基础类型为0
	Reference uint64 `json:"reference"`
}

// StoppedEvent 有线程因断点或单步停了下来
type StoppedEvent struct {
	Reason    constants.StoppedReasonType
	RequestID uint32
	Thread    jdwp.ThreadID
	Location  jdwp.Location
}

// ThreadEvent 线程启动或结束
type ThreadEvent struct {
	Reason constants.ThreadReasonType
	Thread jdwp.ThreadID
}

// ClassPrepareEvent 有新的类进入prepared状态
type ClassPrepareEvent struct {
	Thread    jdwp.ThreadID
	Signature string
}

// VMDeathEvent 虚拟机退出，收到后会话已不可用
type VMDeathEvent struct {
}

// ExitedEvent 会话结束
type ExitedEvent struct {
	Pid int
}

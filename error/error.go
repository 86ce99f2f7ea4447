package error

import (
	"errors"
	"fmt"
)

var (
	// ErrDisconnected 连接断开时，所有等待中的请求都会收到该错误
	ErrDisconnected = errors.New("jdwp connection disconnected")
	// ErrTransportClosed 连接关闭后继续发送请求
	ErrTransportClosed = errors.New("transport is closed")
	// ErrHandshakeFailed 握手失败，协议要求双方交换"JDWP-Handshake"
	ErrHandshakeFailed = errors.New("JDWP handshake failed")
	// ErrTimeout 命令在超时时间内没有收到回复
	ErrTimeout = errors.New("command timed out")
	// ErrMalformedPacket 报文解析失败，出现该错误说明字节流已经不可信
	ErrMalformedPacket = errors.New("malformed jdwp packet")
	// ErrDuplicateSession 同一个pid只允许一个调试会话
	ErrDuplicateSession = errors.New("debug session already exists for pid")
	// ErrNoThreadAvailable 没有处于挂起状态的线程可用于方法调用
	ErrNoThreadAvailable = errors.New("no suspended thread available")
	// ErrSessionClosed 会话已经结束
	ErrSessionClosed = errors.New("debug session is closed")
)

// ProtocolError 虚拟机回复的errorCode不为0
type ProtocolError struct {
	Code     uint16
	PacketID uint32
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("jdwp error %d (packet %d)", e.Code, e.PacketID)
}

func NewProtocolError(code uint16, packetID uint32) *ProtocolError {
	return &ProtocolError{Code: code, PacketID: packetID}
}

// ClassNotFoundError 虚拟机中没有加载指定签名的类
type ClassNotFoundError struct {
	Signature string
}

func (e *ClassNotFoundError) Error() string {
	return fmt.Sprintf("class not found: %s", e.Signature)
}

// MethodNotFoundError 类中没有指定名称（和签名）的方法
type MethodNotFoundError struct {
	ClassSignature string
	Name           string
	Signature      string
}

func (e *MethodNotFoundError) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("method not found: %s %s%s", e.ClassSignature, e.Name, e.Signature)
	}
	return fmt.Sprintf("method not found: %s %s", e.ClassSignature, e.Name)
}

// FieldNotFoundError 类中没有指定名称的字段
type FieldNotFoundError struct {
	ClassSignature string
	Name           string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("field not found: %s %s", e.ClassSignature, e.Name)
}

// InvalidTagError 返回值的类型标签和预期不符
type InvalidTagError struct {
	Expected uint8
	Actual   uint8
}

func (e *InvalidTagError) Error() string {
	return fmt.Sprintf("invalid value tag: expected '%c', got '%c'", e.Expected, e.Actual)
}

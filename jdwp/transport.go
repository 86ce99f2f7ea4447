package jdwp

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"

	e "github.com/fansqz/jdwp-debugger/error"
	"github.com/sirupsen/logrus"
)

// 调试会话对底层传输的唯一要求是一条可靠有序的双向字节流，
// 一般由adb包通过 jdwp:<pid> 服务建立，测试里用net.Pipe代替。

var handshake = []byte("JDWP-Handshake")

// PacketConn 在字节流上做JDWP报文的组包和拆包。
// 读取由单个协程进行（dispatcher的接收循环），写入内部加锁串行化。
type PacketConn struct {
	rwc io.ReadWriteCloser

	// pending 重组缓冲，保存还没凑成完整报文的字节
	pending []byte
	chunk   []byte

	writeMutex sync.Mutex

	closeOnce sync.Once
	closed    bool
	mutex     sync.Mutex
}

// NewPacketConn 执行握手并返回组包器。
// 握手要求双方交换固定的14字节"JDWP-Handshake"，内容不符或流提前结束都是致命错误。
func NewPacketConn(rwc io.ReadWriteCloser) (*PacketConn, error) {
	if _, err := rwc.Write(handshake); err != nil {
		return nil, e.ErrHandshakeFailed
	}
	reply := make([]byte, len(handshake))
	if _, err := io.ReadFull(rwc, reply); err != nil {
		return nil, e.ErrHandshakeFailed
	}
	if !bytes.Equal(reply, handshake) {
		logrus.Warnf("[PacketConn] bad handshake: %q", reply)
		return nil, e.ErrHandshakeFailed
	}
	return &PacketConn{
		rwc:   rwc,
		chunk: make([]byte, 4096),
	}, nil
}

// ReadPacket 阻塞读取下一个完整报文。
// 报文可能被拆成多次读到达，也可能一次读里带着下一个报文的开头，
// pending缓冲保证任何一个字节都不丢失。
func (c *PacketConn) ReadPacket() (*Packet, error) {
	for {
		if packet, err := c.takePacket(); packet != nil || err != nil {
			return packet, err
		}
		n, err := c.rwc.Read(c.chunk)
		if n > 0 {
			c.pending = append(c.pending, c.chunk[:n]...)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// takePacket 从pending缓冲中切出一个完整报文，不足时返回nil
func (c *PacketConn) takePacket() (*Packet, error) {
	if len(c.pending) < HeaderSize {
		return nil, nil
	}
	length := binary.BigEndian.Uint32(c.pending[0:4])
	if length < HeaderSize {
		// 长度字段非法说明流已经错位，继续读只会产生垃圾
		return nil, e.ErrMalformedPacket
	}
	if len(c.pending) < int(length) {
		return nil, nil
	}
	raw := make([]byte, length)
	copy(raw, c.pending[:length])
	c.pending = c.pending[length:]
	return DecodePacket(raw)
}

// WritePacket 串行化写出一个报文
func (c *PacketConn) WritePacket(p *Packet) error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return e.ErrTransportClosed
	}
	c.mutex.Unlock()

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	if _, err := c.rwc.Write(p.Encode()); err != nil {
		return err
	}
	return nil
}

// Close 关闭底层字节流，可以重复调用
func (c *PacketConn) Close() error {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()
	var err error
	c.closeOnce.Do(func() {
		err = c.rwc.Close()
	})
	return err
}

// Closed 连接是否已关闭
func (c *PacketConn) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

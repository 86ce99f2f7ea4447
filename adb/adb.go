// Package adb 实现adb服务端的smart socket协议，
// 为调试会话提供到目标进程jdwp服务的字节流，以及可调试进程的发现。
//
// 协议格式：请求是4个十六进制ASCII字符的长度加payload，
// 应答以"OKAY"或"FAIL"开头，FAIL后面跟同样格式的错误信息。
package adb

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultAddress adb服务端的默认监听地址
	DefaultAddress = "127.0.0.1:5037"

	statusOkay = "OKAY"
	statusFail = "FAIL"
)

// Client adb服务端的客户端。
// Serial为空时用transport-any，设备多于一台时会被adb拒绝。
type Client struct {
	Address string
	Serial  string
}

func NewClient(address string, serial string) *Client {
	if address == "" {
		address = DefaultAddress
	}
	return &Client{Address: address, Serial: serial}
}

// Device host:devices返回的设备
type Device struct {
	Serial string
	State  string
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return nil, fmt.Errorf("dial adb server %s fail: %w", c.Address, err)
	}
	return conn, nil
}

// sendService 发送一条服务请求并检查应答状态
func sendService(conn net.Conn, service string) error {
	if _, err := fmt.Fprintf(conn, "%04x%s", len(service), service); err != nil {
		return err
	}
	return readStatus(conn, service)
}

// readStatus 读4字节状态，FAIL时带回adb的错误信息
func readStatus(conn net.Conn, service string) error {
	status := make([]byte, 4)
	if _, err := io.ReadFull(conn, status); err != nil {
		return err
	}
	switch string(status) {
	case statusOkay:
		return nil
	case statusFail:
		message, err := readBlock(conn)
		if err != nil {
			return fmt.Errorf("adb %s fail", service)
		}
		return fmt.Errorf("adb %s fail: %s", service, message)
	default:
		return fmt.Errorf("adb %s: unexpected status %q", service, status)
	}
}

// readBlock 读一个4位十六进制长度前缀的数据块
func readBlock(conn net.Conn) (string, error) {
	lengthHex := make([]byte, 4)
	if _, err := io.ReadFull(conn, lengthHex); err != nil {
		return "", err
	}
	length, err := strconv.ParseInt(string(lengthHex), 16, 32)
	if err != nil {
		return "", fmt.Errorf("bad adb length prefix %q", lengthHex)
	}
	data := make([]byte, length)
	if _, err = io.ReadFull(conn, data); err != nil {
		return "", err
	}
	return string(data), nil
}

// transport 把连接定向到目标设备
func (c *Client) transport(conn net.Conn) error {
	if c.Serial != "" {
		return sendService(conn, "host:transport:"+c.Serial)
	}
	return sendService(conn, "host:transport-any")
}

// Version 查询adb服务端的协议版本，用作连通性探测
func (c *Client) Version(ctx context.Context) (int, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if err = sendService(conn, "host:version"); err != nil {
		return 0, err
	}
	block, err := readBlock(conn)
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(block, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad adb version %q", block)
	}
	return int(version), nil
}

// Devices 列出已连接的设备
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err = sendService(conn, "host:devices"); err != nil {
		return nil, err
	}
	block, err := readBlock(conn)
	if err != nil {
		return nil, err
	}
	var devices []Device
	for _, line := range strings.Split(block, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			devices = append(devices, Device{Serial: fields[0], State: fields[1]})
		}
	}
	return devices, nil
}

// OpenJDWP 建立到目标进程jdwp服务的字节流。
// 返回的连接已经定向到jdwp:<pid>，后续字节全部属于JDWP协议，
// 由调用方执行握手；关闭连接即断开调试。
func (c *Client) OpenJDWP(ctx context.Context, pid int) (io.ReadWriteCloser, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err = c.transport(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err = sendService(conn, fmt.Sprintf("jdwp:%d", pid)); err != nil {
		conn.Close()
		return nil, err
	}
	logrus.Infof("[adb] jdwp stream opened, pid = %d", pid)
	return conn, nil
}

// ListJDWP 列出设备上可调试的进程pid。
// track-jdwp是个持续推送的服务，这里只取第一帧。
func (c *Client) ListJDWP(ctx context.Context) ([]int, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err = c.transport(conn); err != nil {
		return nil, err
	}
	if err = sendService(conn, "track-jdwp"); err != nil {
		return nil, err
	}
	block, err := readBlock(conn)
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Shell 在设备上执行一条shell命令并返回全部输出
func (c *Client) Shell(ctx context.Context, command string) (string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if err = c.transport(conn); err != nil {
		return "", err
	}
	if err = sendService(conn, "shell:"+command); err != nil {
		return "", err
	}
	output, err := io.ReadAll(conn)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// FindPidByPackage 把包名解析成pid，进程不存在时pid为0
func (c *Client) FindPidByPackage(ctx context.Context, packageName string) (int, error) {
	output, err := c.Shell(ctx, "pidof "+packageName)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return 0, nil
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("bad pidof output %q", output)
	}
	return pid, nil
}

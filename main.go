package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"

	"github.com/fansqz/jdwp-debugger/adb"
	"github.com/fansqz/jdwp-debugger/debugger"
)

// 定义版本号
const Version = "1.0.0"

func main() {
	//启动日志
	SetupLogger()
	defer CloseLogger()

	showVersion := flag.Bool("version", false, "Show the version number")
	port := flag.String("port", "8889", "TCP port to listen on for DAP clients")
	adbAddress := flag.String("adb", adb.DefaultAddress, "Address of the adb server")
	serial := flag.String("serial", "", "Device serial, empty means any device")
	listPids := flag.Bool("list", false, "List debuggable pids and exit")
	flag.Parse()

	// 检查是否需要显示版本信息
	if *showVersion {
		fmt.Printf("Version: %s\n", Version)
		return
	}

	adbClient := adb.NewClient(*adbAddress, *serial)

	// 探测adb服务端可用性
	if _, err := adbClient.Version(context.Background()); err != nil {
		fmt.Printf("adb server unavailable: %s\n", err)
		return
	}

	if *listPids {
		pids, err := adbClient.ListJDWP(context.Background())
		if err != nil {
			fmt.Printf("list jdwp pids fail: %s\n", err)
			return
		}
		for _, pid := range pids {
			fmt.Println(pid)
		}
		return
	}

	// 监听端口
	listener, err := net.Listen("tcp", ":"+*port)
	if err != nil {
		fmt.Printf("listen on %s fail: %s\n", *port, err)
		return
	}
	defer listener.Close()
	fmt.Printf("started listening at: %s\n", listener.Addr().String())

	manager := debugger.NewSessionManager()

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.Printf("Connection failed: %v\n", err)
			continue
		}
		// Handle multiple client connections concurrently
		go handleConnection(conn, adbClient, manager)
	}
}

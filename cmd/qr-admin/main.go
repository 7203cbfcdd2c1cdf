package main

import (
	"github.com/turtacn/qrgate/cmd/cli"
)

// main is the entry point for the qr-admin command-line tool.
// main 是 qr-admin 命令行工具的入口点。
func main() {
	cli.Execute()
}

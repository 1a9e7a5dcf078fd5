// Package main 是命令行客户端的入口点
package main

import "persona-chat/internal/cli/cmd"

func main() {
	cmd.Execute()
}

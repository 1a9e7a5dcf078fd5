// Package cmd 实现 CLI 命令
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"persona-chat/internal/cli/api"
	"persona-chat/internal/cli/config"
)

var rootCmd = &cobra.Command{
	Use:   "persona-chat",
	Short: "Persona Chat - 与 AI 角色对话的命令行客户端",
	Long: `Persona Chat CLI 客户端

浏览角色、开始对话、继续对话和分享对话记录。
未登录时以访客身份使用，登录后对话会积累角色对你的记忆。`,
	SilenceUsage: true,
}

// Execute 执行根命令
// Ctrl+C 会取消正在进行的请求
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// 全局参数
	rootCmd.PersistentFlags().StringP("server", "s", "", "服务器地址 (默认: "+config.DefaultServerURL+")")
	rootCmd.PersistentFlags().String("config-dir", "", "配置目录 (默认: ~/.persona-chat)")
}

func initConfig() {
	dir, _ := rootCmd.PersistentFlags().GetString("config-dir")
	if err := config.Init(dir); err != nil {
		fmt.Fprintf(os.Stderr, "初始化配置失败: %v\n", err)
		os.Exit(1)
	}

	// 如果指定了服务器地址，本次运行使用它
	if server, _ := rootCmd.PersistentFlags().GetString("server"); server != "" {
		config.SetServerURL(server)
	}
}

// newClient 按本地凭证创建 API 客户端
func newClient() *api.Client {
	client := api.NewClient(config.GetServerURL())
	if config.IsLoggedIn() {
		return client.
			WithAuth(config.GetAccessToken()).
			WithRefresh(config.GetRefreshToken(), config.SaveAccessToken)
	}
	return client.WithGuest(config.GetGuestID())
}

// prompt 读取一行输入
func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword 隐藏输入读取密码
func readPassword(label string) (string, error) {
	fmt.Print(label)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("读取密码失败: %w", err)
	}
	return string(password), nil
}

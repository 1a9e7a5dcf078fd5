package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"persona-chat/internal/cli/config"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "登出并清除本地凭证",
	Long: `登出当前账号并清除本地保存的 token。

服务器会作废当前 token。登出后以访客身份继续使用，访客对话不会丢失。`,
	RunE: runLogout,
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, args []string) error {
	// 检查是否已登录
	if !config.IsLoggedIn() {
		fmt.Println("当前未登录")
		return nil
	}

	// 服务器不可达时仍然清除本地凭证
	if err := newClient().Logout(cmd.Context()); err != nil {
		fmt.Printf("! 服务器登出失败: %v\n", err)
	}

	if err := config.ClearAuth(); err != nil {
		return fmt.Errorf("清除凭证失败: %w", err)
	}

	fmt.Println("✓ 已登出并清除本地凭证")
	return nil
}

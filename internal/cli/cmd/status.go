package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"persona-chat/internal/cli/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "显示当前状态",
	Long: `显示当前登录状态和配置信息。

包括：
- 服务器地址
- 登录状态
- 访客 ID（未登录时使用）`,
	Run: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	fmt.Println("╔════════════════════════════════════════════════╗")
	fmt.Println("║           Persona Chat 状态信息                ║")
	fmt.Println("╠════════════════════════════════════════════════╣")

	fmt.Printf("║  服务器: %s\n", config.GetServerURL())
	fmt.Printf("║  配置文件: %s\n", config.Path())

	if config.IsLoggedIn() {
		fmt.Printf("║  登录状态: ✓ 已登录 (%s)\n", config.GetUsername())
	} else {
		fmt.Println("║  登录状态: ✗ 未登录，以访客身份使用")
		fmt.Printf("║  访客 ID: %s\n", config.GetGuestID())
		fmt.Println("║")
		fmt.Println("║  运行 'persona-chat login' 登录后角色会记住你")
	}

	fmt.Println("╚════════════════════════════════════════════════╝")
}

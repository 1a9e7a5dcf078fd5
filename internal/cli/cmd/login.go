package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"persona-chat/internal/cli/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "登录账号",
	Long: `使用用户名和密码登录。

登录后 Token 保存在本地配置中，之后的命令会以该账号身份请求。
加上 --register 会先注册再登录。`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringP("username", "u", "", "用户名")
	loginCmd.Flags().Bool("register", false, "先注册新账号")
	loginCmd.Flags().String("email", "", "注册时使用的邮箱（可选）")
	rootCmd.AddCommand(loginCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	username, _ := cmd.Flags().GetString("username")
	if username == "" {
		var err error
		if username, err = prompt(reader, "请输入用户名: "); err != nil {
			return err
		}
	}
	if username == "" {
		return fmt.Errorf("用户名不能为空")
	}

	password, err := readPassword("请输入密码: ")
	if err != nil {
		return err
	}
	if password == "" {
		return fmt.Errorf("密码不能为空")
	}

	ctx := cmd.Context()
	client := newClient()

	if register, _ := cmd.Flags().GetBool("register"); register {
		email, _ := cmd.Flags().GetString("email")
		if err := client.Register(ctx, username, password, email); err != nil {
			return fmt.Errorf("注册失败: %w", err)
		}
		fmt.Println("✓ 注册成功")
	}

	fmt.Println("正在登录...")
	result, err := client.Login(ctx, username, password)
	if err != nil {
		return fmt.Errorf("登录失败: %w", err)
	}

	if err := config.SaveAuth(username, result.AccessToken, result.RefreshToken); err != nil {
		return fmt.Errorf("保存登录信息失败: %w", err)
	}

	fmt.Printf("✓ 登录成功，欢迎 %s\n", username)
	return nil
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"persona-chat/internal/cli/config"
	"persona-chat/internal/cli/stream"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "实时显示新消息和记忆更新（需要登录）",
	Long: `通过 WebSocket 订阅当前账号的事件：

- 任一设备上对话新增的消息
- 角色对你的记忆更新

按 Ctrl+C 退出。`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if !config.IsLoggedIn() {
		return errors.New("请先运行 'persona-chat login' 登录")
	}

	client := stream.NewClient(config.GetServerURL(), config.GetAccessToken())
	client.OnMessage(printEvent)

	if err := client.Connect(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("✓ 已连接，等待事件... (Ctrl+C 退出)")

	select {
	case <-cmd.Context().Done():
		client.Disconnect()
	case <-client.Done():
		fmt.Println("连接已断开")
	}
	return nil
}

func printEvent(msg *stream.Message) {
	switch msg.Type {
	case stream.TypeChatMessage:
		var p stream.ChatMessagePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		fmt.Printf("💬 对话 #%d\n", p.ChatID)
		if p.Message != nil {
			fmt.Printf("   你: %s\n", p.Message.Content)
		}
		if p.Reply != nil {
			fmt.Printf("   角色: %s\n", p.Reply.Content)
		}

	case stream.TypeMemoryUpdated:
		var p stream.MemoryUpdatedPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		fmt.Printf("🧠 角色 #%d 更新了对你的记忆 (第 %d 次交流)\n", p.CharacterID, p.InteractionCount)
		if p.Profile != "" {
			fmt.Printf("   %s\n", p.Profile)
		}
		if len(p.Topics) > 0 {
			fmt.Printf("   话题: %s\n", strings.Join(p.Topics, ", "))
		}

	case stream.TypeError:
		fmt.Printf("✗ 服务器错误: %s\n", msg.Payload)
	}
}

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"persona-chat/internal/cli/api"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "与角色对话",
}

var chatStartCmd = &cobra.Command{
	Use:   "start <characterId> [message...]",
	Short: "开始新对话",
	Long: `与指定角色开始新对话。

在终端中运行时，发送第一条消息后进入交互模式，输入 /quit 退出。`,
	Args: cobra.MinimumNArgs(1),
	RunE: runChatStart,
}

var chatSendCmd = &cobra.Command{
	Use:   "send <chatId> [message...]",
	Short: "在已有对话中发送消息",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChatSend,
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "我的对话",
	RunE:  runChatList,
}

var chatShowCmd = &cobra.Command{
	Use:   "show <chatId>",
	Short: "显示对话全部消息",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatShow,
}

var chatShareCmd = &cobra.Command{
	Use:   "share <chatId>",
	Short: "生成只读分享链接（需要登录）",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatShare,
}

var chatDeleteCmd = &cobra.Command{
	Use:   "delete <chatId>",
	Short: "删除对话",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatDelete,
}

var chatRateCmd = &cobra.Command{
	Use:   "rate <chatId> <seq> <rating>",
	Short: "给角色的一条回复打分 (1-5)",
	Args:  cobra.ExactArgs(3),
	RunE:  runChatRate,
}

func init() {
	chatStartCmd.Flags().String("provider", "", "模型供应商 (gemini, openai, anthropic)")
	chatStartCmd.Flags().String("model", "", "模型名称")
	chatStartCmd.Flags().BoolP("interactive", "i", true, "发送后进入交互模式")
	chatSendCmd.Flags().BoolP("interactive", "i", false, "发送后进入交互模式")
	chatListCmd.Flags().Int("page", 1, "页码")
	chatListCmd.Flags().Int("page-size", 20, "每页数量")

	chatCmd.AddCommand(chatStartCmd, chatSendCmd, chatListCmd, chatShowCmd, chatShareCmd, chatDeleteCmd, chatRateCmd)
	rootCmd.AddCommand(chatCmd)
}

func runChatStart(cmd *cobra.Command, args []string) error {
	characterID, err := parseID(args[0], "角色 ID")
	if err != nil {
		return err
	}
	provider, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")

	client := newClient()
	turn, err := client.StartChat(cmd.Context(), &api.StartChatRequest{
		CharacterID: characterID,
		Message:     strings.Join(args[1:], " "),
		AIProvider:  provider,
		AIModel:     model,
	})
	if err != nil {
		return describe(err)
	}

	fmt.Printf("✓ 对话 #%d 已创建\n", turn.ChatID)
	printTurn(turn)

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		return chatLoop(cmd.Context(), client, turn.ChatID)
	}
	return nil
}

func runChatSend(cmd *cobra.Command, args []string) error {
	chatID, err := parseID(args[0], "对话 ID")
	if err != nil {
		return err
	}

	client := newClient()
	if message := strings.Join(args[1:], " "); message != "" {
		turn, err := client.SendMessage(cmd.Context(), chatID, message)
		if err != nil {
			return describe(err)
		}
		printTurn(turn)
	}

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive || len(args) == 1 {
		return chatLoop(cmd.Context(), client, chatID)
	}
	return nil
}

// chatLoop 逐行读取输入并发送，直到 /quit 或输入结束
func chatLoop(ctx context.Context, client *api.Client, chatID int64) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}

	fmt.Println("─────────────────────────────────")
	fmt.Println("输入消息后回车发送，/quit 退出")
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := prompt(reader, "你: ")
		if err != nil {
			return nil
		}
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		turn, err := client.SendMessage(ctx, chatID, line)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(os.Stderr, "✗", describe(err))
			continue
		}
		printReply(turn.Reply)
	}
}

func runChatList(cmd *cobra.Command, args []string) error {
	page, _ := cmd.Flags().GetInt("page")
	pageSize, _ := cmd.Flags().GetInt("page-size")

	result, err := newClient().ListChats(cmd.Context(), page, pageSize)
	if err != nil {
		return describe(err)
	}
	if len(result.Chats) == 0 {
		fmt.Println("还没有对话，运行 'persona-chat chat start <角色ID>' 开始")
		return nil
	}

	for _, chat := range result.Chats {
		name := strconv.FormatInt(chat.CharacterID, 10)
		if chat.Character != nil {
			name = chat.Character.Name
		}
		last := "-"
		if chat.LastMessageAt != nil {
			last = chat.LastMessageAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("#%-5d %-16s %-30s %3d 条  %s  %s/%s\n",
			chat.ID, name, chat.Title, chat.MessageCount, last, chat.AIProvider, chat.AIModel)
	}
	fmt.Printf("\n共 %d 个对话\n", result.Total)
	return nil
}

func runChatShow(cmd *cobra.Command, args []string) error {
	chatID, err := parseID(args[0], "对话 ID")
	if err != nil {
		return err
	}

	chat, err := newClient().GetChat(cmd.Context(), chatID)
	if err != nil {
		return describe(err)
	}

	speaker := "角色"
	if chat.Character != nil {
		speaker = chat.Character.Name
	}
	fmt.Printf("对话 #%d  %s\n", chat.ID, chat.Title)
	fmt.Println("─────────────────────────────────")
	for _, msg := range chat.Messages {
		who := "你"
		if msg.Role != "user" {
			who = speaker
		}
		fmt.Printf("[%d] %s: %s\n", msg.Seq, who, msg.Content)
	}
	return nil
}

func runChatShare(cmd *cobra.Command, args []string) error {
	chatID, err := parseID(args[0], "对话 ID")
	if err != nil {
		return err
	}

	share, err := newClient().ShareChat(cmd.Context(), chatID)
	if err != nil {
		if api.IsStatus(err, http.StatusUnauthorized) {
			return errors.New("分享需要登录，请先运行 'persona-chat login'")
		}
		return describe(err)
	}

	fmt.Printf("✓ 分享链接: %s\n", share.ShareURL)
	return nil
}

func runChatDelete(cmd *cobra.Command, args []string) error {
	chatID, err := parseID(args[0], "对话 ID")
	if err != nil {
		return err
	}

	if err := newClient().DeleteChat(cmd.Context(), chatID); err != nil {
		return describe(err)
	}
	fmt.Printf("✓ 对话 #%d 已删除\n", chatID)
	return nil
}

func runChatRate(cmd *cobra.Command, args []string) error {
	chatID, err := parseID(args[0], "对话 ID")
	if err != nil {
		return err
	}
	seq, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("无效的消息序号: %s", args[1])
	}
	rating, err := strconv.Atoi(args[2])
	if err != nil || rating < 1 || rating > 5 {
		return fmt.Errorf("评分必须是 1 到 5 的整数")
	}

	if err := newClient().SetFeedback(cmd.Context(), chatID, seq, rating); err != nil {
		return describe(err)
	}
	fmt.Println("✓ 感谢评分")
	return nil
}

func printTurn(turn *api.Turn) {
	if turn.Message != nil && turn.Message.Content != "" {
		fmt.Printf("你: %s\n", turn.Message.Content)
	}
	printReply(turn.Reply)
}

func printReply(reply *api.Message) {
	if reply == nil {
		return
	}
	fmt.Printf("角色: %s\n", reply.Content)
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("无效的%s: %s", what, s)
	}
	return id, nil
}

// describe 把常见的服务端错误翻译成提示
func describe(err error) error {
	switch {
	case api.IsStatus(err, http.StatusConflict):
		return errors.New("上一条回复还在生成，请稍后再试")
	case api.IsStatus(err, http.StatusNotFound):
		return fmt.Errorf("未找到: %w", err)
	case api.IsStatus(err, http.StatusUnauthorized):
		return fmt.Errorf("没有权限，可能需要重新登录: %w", err)
	}
	return err
}

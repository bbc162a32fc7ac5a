package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coursepilot/assistant/internal/conversation"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "查看或清空对话历史",
}

var historyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "显示当前会话的对话历史",
	RunE:  runHistoryShow,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "清空当前会话（保留欢迎消息）",
	RunE:  runHistoryClear,
}

func init() {
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryShow(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	messages, err := a.load(ctx)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	for _, m := range messages {
		fmt.Printf("[%s] %s\n", roleLabel(m.Role), m.Content)
		for _, att := range m.Attachments {
			fmt.Printf("    附件: %s (%s)\n", att.Name, att.Kind)
		}
	}
	fmt.Printf("\n共 %d 条消息\n", len(messages))
	return nil
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	if _, err := a.load(ctx); err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if _, err := a.store.Clear(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	fmt.Println("对话历史已清空")
	return nil
}

func roleLabel(role string) string {
	switch role {
	case conversation.RoleUser:
		return "我"
	case conversation.RoleAssistant:
		return "助手"
	default:
		return role
	}
}

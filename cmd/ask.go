package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coursepilot/assistant/internal/attachment"
	"github.com/coursepilot/assistant/internal/chat"
	"github.com/coursepilot/assistant/internal/conversation"
)

var (
	askDeepThink   bool
	askWebSearch   bool
	askAutoSearch  bool
	askAttachments []string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "向助手提问，可附带文档",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askDeepThink, "deep-think", false, "使用深度思考模型")
	askCmd.Flags().BoolVar(&askWebSearch, "web-search", false, "启用联网搜索")
	askCmd.Flags().BoolVar(&askAutoSearch, "auto-search", true, "由后端判断是否需要搜索")
	askCmd.Flags().StringSliceVarP(&askAttachments, "file", "f", nil, "附件路径，可重复")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
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
	a.logger.Debug("session loaded", "messages", len(messages))

	attachments, err := ingestFiles(a)
	if err != nil {
		return err
	}

	answer := a.orch.Respond(ctx, a.cfg.Identity, chat.TurnInput{
		Text:        strings.Join(args, " "),
		Attachments: attachments,
		DeepThink:   askDeepThink,
		WebSearch:   askWebSearch,
		AutoSearch:  askAutoSearch,
	})

	fmt.Println(answer.Content)
	printProvenance(answer)
	return nil
}

// ingestFiles reads and ingests the --file arguments, capped at the
// per-message attachment limit.
func ingestFiles(a *app) ([]attachment.Attachment, error) {
	if len(askAttachments) == 0 {
		return nil, nil
	}

	ing := attachment.New(attachment.DefaultConfig(), a.logger.With("component", "attachment"))
	files := make([]attachment.File, 0, len(askAttachments))
	for _, path := range askAttachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading attachment %s: %w", path, err)
		}
		files = append(files, attachment.File{Name: path, Data: data})
	}

	attachments, overflow := ing.IngestAll(files, conversation.MaxAttachments)
	if overflow > 0 {
		fmt.Fprintf(os.Stderr, "附件超出上限，已忽略 %d 个文件\n", overflow)
	}
	for _, att := range attachments {
		if att.Status == attachment.StatusError {
			fmt.Fprintf(os.Stderr, "附件 %s 无法使用: %s\n", att.Name, att.Error)
		}
	}
	return attachments, nil
}

// printProvenance lists the web-search sources behind an answer, if any.
func printProvenance(msg conversation.Message) {
	if len(msg.SearchResults) == 0 {
		return
	}
	fmt.Println()
	fmt.Printf("来源（%s）:\n", msg.SearchProvider)
	for i, r := range msg.SearchResults {
		fmt.Printf("  %d. %s\n     %s\n", i+1, r.Title, r.URL)
	}
}

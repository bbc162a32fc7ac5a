// Package cmd implements the coursepilot CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coursepilot",
	Short: "CoursePilot - 课程平台 AI 助手",
	Long: `CoursePilot 是课程平台的嵌入式 AI 助手核心。
它维护本地与远端双副本的对话历史，支持上传文档解析、
联网搜索增强回答，以及在后端不可用时回退到自有模型通道。`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

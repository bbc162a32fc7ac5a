package chat

import (
	"strings"
	"testing"
)

func TestSanitizeAnswerStripsSearchContext(t *testing.T) {
	in := "结论如下。\n\n【搜索上下文】\n网页原文……\n【/搜索上下文】\n\n明天有雨。"
	got := sanitizeAnswer(in)
	if strings.Contains(got, "搜索上下文") || strings.Contains(got, "网页原文") {
		t.Errorf("leaked context survived: %q", got)
	}
	if !strings.Contains(got, "结论如下。") || !strings.Contains(got, "明天有雨。") {
		t.Errorf("answer text damaged: %q", got)
	}
}

func TestSanitizeAnswerStripsASCIIDelimiters(t *testing.T) {
	in := "answer\n[SEARCH_CONTEXT]\nraw page\n[/SEARCH_CONTEXT]\ndone"
	got := sanitizeAnswer(in)
	if strings.Contains(got, "SEARCH_CONTEXT") || strings.Contains(got, "raw page") {
		t.Errorf("leaked context survived: %q", got)
	}
}

func TestSanitizeAnswerStripsInternalNotices(t *testing.T) {
	in := "【系统提示】回答时请引用来源。\n正文第一行\n以上内容来自联网搜索，请注意甄别。\n正文第二行"
	got := sanitizeAnswer(in)
	if strings.Contains(got, "系统提示") || strings.Contains(got, "联网搜索") {
		t.Errorf("internal notices survived: %q", got)
	}
	if !strings.Contains(got, "正文第一行") || !strings.Contains(got, "正文第二行") {
		t.Errorf("answer text damaged: %q", got)
	}
}

func TestSanitizeAnswerCollapsesBlankRuns(t *testing.T) {
	got := sanitizeAnswer("a\n\n\n\n\nb")
	if got != "a\n\nb" {
		t.Errorf("got %q, want blank runs collapsed to one empty line", got)
	}
}

func TestSanitizeAnswerTrims(t *testing.T) {
	if got := sanitizeAnswer("  \n回答\n  "); got != "回答" {
		t.Errorf("got %q", got)
	}
	if got := sanitizeAnswer("【搜索上下文】only noise【/搜索上下文】"); got != "" {
		t.Errorf("pure-noise answer should sanitize to empty, got %q", got)
	}
}

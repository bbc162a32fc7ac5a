package chat

import (
	"regexp"
	"strings"
)

// The backend wraps retrieved web pages in delimiter blocks before prompting
// the model. Models occasionally echo the delimiters, or the internal notice
// telling them how to cite, back into the answer; both are stripped before
// the answer reaches the transcript.
var (
	searchContextBlocks = []*regexp.Regexp{
		regexp.MustCompile(`(?s)【搜索上下文】.*?【/搜索上下文】`),
		regexp.MustCompile(`(?s)\[SEARCH_CONTEXT\].*?\[/SEARCH_CONTEXT\]`),
	}

	internalNoticeLines = regexp.MustCompile(
		`(?m)^(【系统提示】.*|以上内容来自联网搜索[，,].*|（?以下回答参考了联网搜索结果.*)$`)

	blankRuns = regexp.MustCompile(`\n{3,}`)
)

// sanitizeAnswer removes leaked search-context delimiters and internal notice
// text from a model answer and collapses the blank runs the removal leaves.
func sanitizeAnswer(answer string) string {
	for _, p := range searchContextBlocks {
		answer = p.ReplaceAllString(answer, "")
	}
	answer = internalNoticeLines.ReplaceAllString(answer, "")
	answer = blankRuns.ReplaceAllString(answer, "\n\n")
	return strings.TrimSpace(answer)
}

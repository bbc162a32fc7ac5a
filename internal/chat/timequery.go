package chat

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/coursepilot/assistant/internal/backend"
)

// timeQueryPatterns is the fixed set of "what time/date is it" shapes that
// short-circuit the model. The set is deliberately narrow: a question the
// pattern does not recognize goes to the model like any other.
var timeQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)what('?s| is)?\s+(the\s+)?(time|date|day)\b`),
	regexp.MustCompile(`(?i)\bcurrent (time|date)\b`),
	regexp.MustCompile(`(?i)\btime is it\b`),
	regexp.MustCompile(`现在几点|几点了|现在时间|当前时间|今天几号|今天日期|今天是几月几号|现在日期|今天星期几|现在是什么时间`),
}

// maxTimeQueryRunes keeps long messages that merely mention time on the model
// path.
const maxTimeQueryRunes = 50

// isTimeQuery reports whether text is a date/time question.
func isTimeQuery(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxTimeQueryRunes {
		return false
	}
	for _, p := range timeQueryPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// weekdaysZH maps time.Weekday ordinals to Chinese day names.
var weekdaysZH = [...]string{"日", "一", "二", "三", "四", "五", "六"}

// formatTimeAnswer renders a deterministic answer from a trusted time reading,
// always naming the provenance so the user knows whether the value came from
// the network or the server clock.
func formatTimeAnswer(nt *backend.NetworkTime) string {
	t := nt.Local
	stamp := fmt.Sprintf("%s（星期%s）", t.Format("2006-01-02 15:04:05"), weekdaysZH[int(t.Weekday())])
	if nt.Source == "server-clock" {
		return fmt.Sprintf("现在是 %s。\n时间来源：服务器时钟（网络时间暂不可用）。", stamp)
	}
	return fmt.Sprintf("现在是 %s。\n时间来源：网络时间（%s）。", stamp, nt.Source)
}

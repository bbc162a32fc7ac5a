package conversation

import "unicode/utf8"

// WindowConfig bounds the context window handed to a model call.
// The zero value is not useful; use DefaultWindowConfig.
type WindowConfig struct {
	// MaxMessages caps how many messages a window may hold.
	MaxMessages int

	// MaxChars is the total character budget across the window, counted on
	// the model-facing text (APIText).
	MaxChars int

	// OverheadChars is charged per message on top of its text, covering the
	// role/framing bytes the wire format adds.
	OverheadChars int
}

// DefaultWindowConfig returns the production window bounds.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{
		MaxMessages:   80,
		MaxChars:      48000,
		OverheadChars: 8,
	}
}

// BuildWindow selects the bounded subsequence of msgs used as model context.
//
// It walks backward from the most recent message, accumulating until either
// the message ceiling or the character budget would be exceeded; the boundary
// message that would overflow is excluded, not truncated. The returned slice
// is in chronological order.
//
// Exception: when even the most recent message alone exceeds the budget, that
// single message is returned hard-truncated to the budget — a model call never
// receives zero context while the session has at least one message.
func BuildWindow(msgs []Message, cfg WindowConfig) []Message {
	if len(msgs) == 0 {
		return nil
	}

	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if len(msgs)-start >= cfg.MaxMessages {
			break
		}
		cost := utf8.RuneCountInString(msgs[i].APIText()) + cfg.OverheadChars
		if total+cost > cfg.MaxChars {
			break
		}
		total += cost
		start = i
	}

	if start == len(msgs) {
		// Single-message hard-truncation path.
		last := msgs[len(msgs)-1]
		budget := cfg.MaxChars - cfg.OverheadChars
		if budget < 1 {
			budget = 1
		}
		text, cut := CapText(last.APIText(), budget)
		if cut {
			if last.APIContent != "" {
				last.APIContent = text
			} else {
				last.Content = text
				last.Truncated = true
			}
		}
		return []Message{last}
	}

	window := make([]Message, len(msgs)-start)
	copy(window, msgs[start:])
	return window
}

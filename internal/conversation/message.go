// Package conversation defines the chat message data model shared by the
// assistant session core.
//
// A Message is a tagged union over Role: role-specific optional fields
// (APIContent and Attachments for user turns, search provenance for assistant
// turns) are validated and stripped during normalization rather than trusted
// as-is from storage or network input. Both replicas of a session (local cache
// and remote store) pass through Normalize on every read and write so they can
// never diverge in shape, only in content.
package conversation

import (
	"strings"
	"unicode/utf8"
)

// Message roles. The set is closed: Normalize drops anything else.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Normalization limits.
const (
	// MaxContentChars caps the display text of a single message, counted in
	// runes. Truncated content always ends with TruncationMarker.
	MaxContentChars = 12000

	// MaxAttachments caps the attachment summaries carried by a user message.
	MaxAttachments = 6

	// MaxMessages caps the length of a session; oldest messages drop first.
	MaxMessages = 240
)

// TruncationMarker is appended to any text cut by normalization or ingestion
// so the model and the user both know content was removed.
const TruncationMarker = "\n…[内容已截断 / content truncated]"

// WelcomeText is the assistant greeting that seeds an empty session.
const WelcomeText = "你好！我是课程助手，可以帮你解答课程问题、整理资料，也可以阅读你上传的文档。"

// AttachmentRef is the summary of an ingested attachment carried by a user
// message. The extracted text itself travels in APIContent, not here.
type AttachmentRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// SearchResult is one web-search hit returned by the backend's augmented chat
// endpoint, kept as provenance on the assistant message it informed.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Truncated marks content cut to MaxContentChars during normalization.
	Truncated bool `json:"truncated,omitempty"`

	// APIContent, when set on a user message, is the text actually sent to
	// the model: Content plus extracted attachment text. Empty means Content
	// is used as-is.
	APIContent string `json:"api_content,omitempty"`

	// Attachments summarizes the files attached to a user message.
	Attachments []AttachmentRef `json:"attachments,omitempty"`

	// Search provenance, assistant messages only.
	SearchResults       []SearchResult `json:"search_results,omitempty"`
	SearchProvider      string         `json:"search_provider,omitempty"`
	SearchResolvedQuery string         `json:"search_resolved_query,omitempty"`
}

// Welcome returns the default assistant greeting used to seed a session.
func Welcome() Message {
	return Message{Role: RoleAssistant, Content: WelcomeText}
}

// IsWelcomeOnly reports whether msgs holds nothing but the default greeting.
// The reconciliation policy treats such a replica as empty for precedence.
func IsWelcomeOnly(msgs []Message) bool {
	return len(msgs) == 1 &&
		msgs[0].Role == RoleAssistant &&
		msgs[0].Content == WelcomeText
}

// Normalize validates and bounds a message list loaded from either replica or
// produced by an append. It is idempotent: Normalize(Normalize(x)) equals
// Normalize(x).
//
// Rules:
//   - roles outside {system, user, assistant} are dropped
//   - content empty after trimming is dropped, never stored as empty
//   - content longer than MaxContentChars is cut and marked
//   - role-mismatched optional fields are stripped
//   - attachment lists are capped at MaxAttachments
//   - the list is capped at MaxMessages, oldest first to go
func Normalize(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			continue
		}

		if strings.TrimSpace(m.Content) == "" {
			continue
		}

		if cut, ok := CapText(m.Content, MaxContentChars); ok {
			m.Content = cut
			m.Truncated = true
		}

		if m.Role != RoleUser {
			m.APIContent = ""
			m.Attachments = nil
		}
		if m.Role != RoleAssistant {
			m.SearchResults = nil
			m.SearchProvider = ""
			m.SearchResolvedQuery = ""
		}
		if len(m.Attachments) > MaxAttachments {
			m.Attachments = m.Attachments[:MaxAttachments]
		}

		out = append(out, m)
	}

	if len(out) > MaxMessages {
		out = out[len(out)-MaxMessages:]
	}
	return out
}

// APIText returns the model-facing text of a message: APIContent when present,
// Content otherwise.
func (m Message) APIText() string {
	if m.APIContent != "" {
		return m.APIContent
	}
	return m.Content
}

// CapText cuts s to at most limit runes, appending TruncationMarker so the cut
// is visible. The marker is budgeted inside the limit, which keeps repeated
// capping idempotent. The second return reports whether a cut happened.
func CapText(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	marker := []rune(TruncationMarker)
	keep := limit - len(marker)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return string(runes[:keep]) + TruncationMarker, true
}

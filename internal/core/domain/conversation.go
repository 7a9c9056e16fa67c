package domain

// Turn is one finished question/answer exchange.
type Turn struct {
	UserText      string `json:"user"`
	AssistantText string `json:"assistant"`
	ActiveBook    string `json:"active_book,omitempty"`
}

// History is an ordered snapshot of turns, most recent last. The pipeline
// only reads it; the session that owns it appends new turns.
type History []Turn

func (h History) Len() int {
	return len(h)
}

func (h History) Last() (Turn, bool) {
	if len(h) == 0 {
		return Turn{}, false
	}
	return h[len(h)-1], true
}

// Recent returns at most n trailing turns.
func (h History) Recent(n int) History {
	if n <= 0 {
		return nil
	}
	if len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// Append returns a new history with t added; the receiver is left untouched.
func (h History) Append(t Turn) History {
	out := make(History, len(h), len(h)+1)
	copy(out, h)
	return append(out, t)
}

type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

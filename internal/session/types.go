package session

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const DefaultTitle = "Data Analyst"

// Message is immutable once it has been appended to a session.
type Message struct {
	ID        string
	Role      Role
	Content   string
	FileNames []string
	RunID     string
	CreatedAt time.Time
}

func NewMessage(role Role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

func UserMessage(prompt string, fileNames []string) Message {
	m := NewMessage(RoleUser, prompt)
	if len(fileNames) > 0 {
		m.FileNames = slices.Clone(fileNames)
	}
	return m
}

func AssistantMessage(content, runID string) Message {
	m := NewMessage(RoleAssistant, content)
	m.RunID = runID
	return m
}

type Session struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
}

func (s Session) Len() int { return len(s.Messages) }

// LastAssistant returns the most recent assistant message.
func (s Session) LastAssistant() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAssistant {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

func (s Session) clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.clone()
	}
	return out
}

func (m Message) clone() Message {
	if m.FileNames != nil {
		m.FileNames = slices.Clone(m.FileNames)
	}
	return m
}

type ChangeKind int

const (
	Created ChangeKind = iota
	Appended
	Replaced
	Dropped
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Change describes one store mutation. Message is set for Appended.
type Change struct {
	Kind    ChangeKind
	Session Session
	Message *Message
}

type Observer interface {
	SessionChanged(Change)
}

type ObserverFunc func(Change)

func (f ObserverFunc) SessionChanged(c Change) { f(c) }

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionExists  = errors.New("session already exists")
)

const DefaultMaxSessions = 32

type Options struct {
	// MaxSessions bounds the keyed collection; the oldest inactive session
	// is evicted when a new one would exceed it.
	MaxSessions int
	Logger      *slog.Logger
}

// Store owns every session of the running process. It is not safe for
// concurrent use: all calls must come from the same event loop.
type Store struct {
	sessions    map[string]Session
	order       []string
	active      string
	maxSessions int
	observers   []Observer
	logger      *slog.Logger
}

func NewStore(opts Options) *Store {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	return &Store{
		sessions:    make(map[string]Session),
		maxSessions: opts.MaxSessions,
		logger:      opts.Logger,
	}
}

func (s *Store) Observe(o Observer) {
	if o != nil {
		s.observers = append(s.observers, o)
	}
}

// Create adds a new session with the given initial messages.
func (s *Store) Create(id, title string, msgs ...Message) (Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Session{}, errors.New("session id cannot be empty")
	}
	if _, exists := s.sessions[id]; exists {
		return Session{}, fmt.Errorf("create %s: %w", id, ErrSessionExists)
	}
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}

	sess := Session{
		ID:        id,
		Title:     title,
		Messages:  make([]Message, 0, len(msgs)),
		CreatedAt: time.Now(),
	}
	for _, m := range msgs {
		sess.Messages = append(sess.Messages, m.clone())
	}
	s.sessions[id] = sess
	s.order = append(s.order, id)
	s.notify(Change{Kind: Created, Session: sess.clone()})
	s.evict(id)
	return sess.clone(), nil
}

// Append adds msg to the end of the session's log and returns the new
// snapshot. Earlier snapshots are left untouched and no returned snapshot
// shares storage with the store.
func (s *Store) Append(id string, msg Message) (Session, error) {
	cur, ok := s.sessions[id]
	if !ok {
		s.log("append to unknown session", slog.String("session_id", id), slog.String("message_id", msg.ID))
		return Session{}, fmt.Errorf("append to %s: %w", id, ErrUnknownSession)
	}

	next := cur.clone()
	added := msg.clone()
	next.Messages = append(next.Messages, added)

	s.sessions[id] = next
	announced := added.clone()
	s.notify(Change{Kind: Appended, Session: next.clone(), Message: &announced})
	return next.clone(), nil
}

// Replace swaps the stored snapshot for sess wholesale.
func (s *Store) Replace(sess Session) error {
	if _, ok := s.sessions[sess.ID]; !ok {
		s.log("replace unknown session", slog.String("session_id", sess.ID))
		return fmt.Errorf("replace %s: %w", sess.ID, ErrUnknownSession)
	}
	next := sess.clone()
	s.sessions[sess.ID] = next
	s.notify(Change{Kind: Replaced, Session: next.clone()})
	return nil
}

// Get returns a copy of the stored session; writes to it never reach the
// store.
func (s *Store) Get(id string) (Session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return sess.clone(), true
}

// Sessions returns every session in creation order.
func (s *Store) Sessions() []Session {
	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.sessions[id].clone())
	}
	return out
}

func (s *Store) Len() int { return len(s.order) }

// Deactivate leaves every session in place but makes none of them active.
func (s *Store) Deactivate() { s.active = "" }

// Activate makes id the active session. An empty id deactivates.
func (s *Store) Activate(id string) error {
	if id == "" {
		s.Deactivate()
		return nil
	}
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("activate %s: %w", id, ErrUnknownSession)
	}
	s.active = id
	return nil
}

func (s *Store) Active() (Session, bool) {
	if s.active == "" {
		return Session{}, false
	}
	return s.Get(s.active)
}

func (s *Store) ActiveID() string { return s.active }

// Drop discards a session. Dropping an unknown id is a no-op.
func (s *Store) Drop(id string) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	if s.active == id {
		s.active = ""
	}
	s.notify(Change{Kind: Dropped, Session: sess})
}

// Reset drops every session, oldest first.
func (s *Store) Reset() {
	for _, id := range slices.Clone(s.order) {
		s.Drop(id)
	}
}

func (s *Store) evict(keep string) {
	for len(s.order) > s.maxSessions {
		victim := ""
		for _, id := range s.order {
			if id != s.active && id != keep {
				victim = id
				break
			}
		}
		if victim == "" {
			return
		}
		s.log("evicting session", slog.String("session_id", victim), slog.Int("limit", s.maxSessions))
		s.Drop(victim)
	}
}

func (s *Store) notify(c Change) {
	for _, o := range s.observers {
		o.SessionChanged(c)
	}
}

func (s *Store) log(msg string, attrs ...slog.Attr) {
	if s.logger != nil {
		s.logger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrs...)
	}
}

package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendPreservesOrder(t *testing.T) {
	st := NewStore(Options{})
	_, err := st.Create("s1", "")
	require.NoError(t, err)

	var want []string
	for i := 0; i < 25; i++ {
		m := NewMessage(RoleAssistant, fmt.Sprintf("msg-%d", i))
		want = append(want, m.ID)
		_, err := st.Append("s1", m)
		require.NoError(t, err)
	}

	got, ok := st.Get("s1")
	require.True(t, ok)
	require.Len(t, got.Messages, 25)
	for i, m := range got.Messages {
		assert.Equal(t, want[i], m.ID)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.Content)
	}
	assert.Equal(t, DefaultTitle, got.Title)
}

func TestAppendUnknownSession(t *testing.T) {
	st := NewStore(Options{})
	_, err := st.Append("missing", NewMessage(RoleUser, "hi"))
	require.True(t, errors.Is(err, ErrUnknownSession))
}

func TestSnapshotsAreImmutable(t *testing.T) {
	st := NewStore(Options{})
	first, err := st.Create("s1", "t", UserMessage("trend?", []string{"data.csv"}))
	require.NoError(t, err)

	second, err := st.Append("s1", AssistantMessage("Done", "r1"))
	require.NoError(t, err)

	assert.Len(t, first.Messages, 1)
	assert.Len(t, second.Messages, 2)

	second.Messages[0].FileNames[0] = "mutated.csv"
	stored, _ := st.Get("s1")
	assert.Equal(t, []string{"data.csv"}, stored.Messages[0].FileNames)

	stored.Messages[0].Content = "rewritten"
	stored.Messages[0].FileNames[0] = "other.csv"
	again, _ := st.Get("s1")
	assert.Equal(t, "trend?", again.Messages[0].Content)
	assert.Equal(t, []string{"data.csv"}, again.Messages[0].FileNames)

	require.NoError(t, st.Activate("s1"))
	active, ok := st.Active()
	require.True(t, ok)
	active.Messages[1].Content = "changed"
	listed := st.Sessions()
	listed[0].Messages[0].FileNames[0] = "listed.csv"

	again, _ = st.Get("s1")
	assert.Equal(t, "Done", again.Messages[1].Content)
	assert.Equal(t, []string{"data.csv"}, again.Messages[0].FileNames)
}

func TestCreateReturnsIsolatedSnapshot(t *testing.T) {
	st := NewStore(Options{})
	created, err := st.Create("s1", "t", UserMessage("trend?", []string{"data.csv"}))
	require.NoError(t, err)

	created.Messages[0].Content = "rewritten"
	got, _ := st.Get("s1")
	assert.Equal(t, "trend?", got.Messages[0].Content)
}

func TestCreateDuplicate(t *testing.T) {
	st := NewStore(Options{})
	_, err := st.Create("s1", "")
	require.NoError(t, err)
	_, err = st.Create("s1", "")
	assert.True(t, errors.Is(err, ErrSessionExists))
	_, err = st.Create("  ", "")
	assert.Error(t, err)
}

func TestReplace(t *testing.T) {
	st := NewStore(Options{})
	sess, err := st.Create("s1", "")
	require.NoError(t, err)

	sess.Title = "Renamed"
	require.NoError(t, st.Replace(sess))
	got, _ := st.Get("s1")
	assert.Equal(t, "Renamed", got.Title)

	assert.True(t, errors.Is(st.Replace(Session{ID: "nope"}), ErrUnknownSession))
}

func TestObserversSeeEveryMutation(t *testing.T) {
	st := NewStore(Options{})
	var kinds []ChangeKind
	st.Observe(ObserverFunc(func(c Change) { kinds = append(kinds, c.Kind) }))

	sess, _ := st.Create("s1", "")
	_, _ = st.Append("s1", NewMessage(RoleUser, "x"))
	_ = st.Replace(sess)
	st.Drop("s1")
	st.Drop("s1")

	assert.Equal(t, []ChangeKind{Created, Appended, Replaced, Dropped}, kinds)
}

func TestEvictionSkipsActiveSession(t *testing.T) {
	st := NewStore(Options{MaxSessions: 2})
	_, _ = st.Create("a", "")
	require.NoError(t, st.Activate("a"))
	_, _ = st.Create("b", "")
	_, _ = st.Create("c", "")

	ids := []string{}
	for _, s := range st.Sessions() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)

	active, ok := st.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.ID)
}

func TestResetClearsActive(t *testing.T) {
	st := NewStore(Options{})
	_, _ = st.Create("a", "")
	_, _ = st.Create("b", "")
	require.NoError(t, st.Activate("b"))

	st.Reset()
	assert.Zero(t, st.Len())
	_, ok := st.Active()
	assert.False(t, ok)
	assert.Error(t, st.Activate("a"))
}

func TestDeactivateKeepsSessions(t *testing.T) {
	st := NewStore(Options{})
	_, _ = st.Create("a", "")
	require.NoError(t, st.Activate("a"))

	st.Deactivate()
	assert.Empty(t, st.ActiveID())
	_, ok := st.Active()
	assert.False(t, ok)
	_, ok = st.Get("a")
	assert.True(t, ok)

	require.NoError(t, st.Activate("a"))
	require.NoError(t, st.Activate(""))
	assert.Empty(t, st.ActiveID())
}

func TestLastAssistant(t *testing.T) {
	s := Session{Messages: []Message{
		AssistantMessage("first", "r1"),
		UserMessage("q", nil),
	}}
	m, ok := s.LastAssistant()
	require.True(t, ok)
	assert.Equal(t, "first", m.Content)

	_, ok = Session{}.LastAssistant()
	assert.False(t, ok)
}

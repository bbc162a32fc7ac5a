package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/coursepilot/assistant/internal/conversation"
	"github.com/coursepilot/assistant/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRemote is an in-memory Remote recording every push.
type fakeRemote struct {
	mu       sync.Mutex
	history  map[string][]conversation.Message
	fetchErr error
	pushErr  error
	pushes   [][]conversation.Message

	// When set, fetches for gateIdentity signal started and block on gate.
	gateIdentity string
	started      chan struct{}
	gate         chan struct{}
}

func (r *fakeRemote) FetchHistory(ctx context.Context, identity string) ([]conversation.Message, error) {
	if r.gate != nil && identity == r.gateIdentity {
		r.started <- struct{}{}
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fetchErr != nil {
		return nil, r.fetchErr
	}
	return append([]conversation.Message(nil), r.history[identity]...), nil
}

func (r *fakeRemote) PushHistory(ctx context.Context, identity string, msgs []conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pushErr != nil {
		return r.pushErr
	}
	r.pushes = append(r.pushes, append([]conversation.Message(nil), msgs...))
	r.history[identity] = append([]conversation.Message(nil), msgs...)
	return nil
}

func (r *fakeRemote) pushCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

func (r *fakeRemote) lastPush() []conversation.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pushes) == 0 {
		return nil
	}
	return r.pushes[len(r.pushes)-1]
}

func newTestStore(t *testing.T, remote Remote, debounce time.Duration) *Store {
	t.Helper()
	s, err := New(Config{
		Cache:    NewMemoryCache(),
		Remote:   remote,
		Logger:   log.NewNop(),
		Debounce: debounce,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

func userMsg(text string) conversation.Message {
	return conversation.Message{Role: conversation.RoleUser, Content: text}
}

func assistantMsg(text string) conversation.Message {
	return conversation.Message{Role: conversation.RoleAssistant, Content: text}
}

func TestLoadRequiresIdentity(t *testing.T) {
	s := newTestStore(t, nil, time.Hour)
	if _, err := s.Load(context.Background(), ""); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("got %v, want ErrNoIdentity", err)
	}
}

func TestLoadFreshSessionGetsWelcome(t *testing.T) {
	s := newTestStore(t, nil, time.Hour)
	msgs, err := s.Load(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !conversation.IsWelcomeOnly(msgs) {
		t.Errorf("fresh session should be welcome-only, got %+v", msgs)
	}
}

func TestLoadCorruptCacheDegradesToWelcome(t *testing.T) {
	cache := NewMemoryCache()
	if err := cache.Set("alice", []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	s, err := New(Config{Cache: cache, Logger: log.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	msgs, err := s.Load(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !conversation.IsWelcomeOnly(msgs) {
		t.Errorf("corrupt cache should degrade to welcome, got %+v", msgs)
	}
}

func TestLoadRemoteFetchFailureKeepsLocal(t *testing.T) {
	rem := &fakeRemote{history: map[string][]conversation.Message{}, fetchErr: errors.New("backend down")}
	s := newTestStore(t, rem, time.Hour)

	msgs, err := s.Load(context.Background(), "alice")
	if err != nil {
		t.Fatalf("remote failure must not fail Load: %v", err)
	}
	if !conversation.IsWelcomeOnly(msgs) {
		t.Errorf("local replica should survive, got %+v", msgs)
	}
}

func TestLoadRemoteWinsWhenLonger(t *testing.T) {
	remoteMsgs := []conversation.Message{
		conversation.Welcome(),
		userMsg("q1"),
		assistantMsg("a1"),
	}
	rem := &fakeRemote{history: map[string][]conversation.Message{"alice": remoteMsgs}}
	s := newTestStore(t, rem, time.Hour)

	msgs, err := s.Load(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want remote's 3", len(msgs))
	}

	// The winner lands in the local cache too.
	again, err := s.Load(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 3 {
		t.Errorf("remote winner not written back to local cache, got %d messages", len(again))
	}
}

func TestLoadLocalWinsWhenLongerAndPushes(t *testing.T) {
	rem := &fakeRemote{history: map[string][]conversation.Message{
		"alice": {conversation.Welcome()},
	}}
	s := newTestStore(t, rem, 20*time.Millisecond)

	if _, err := s.Load(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append("alice", userMsg("local only")); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	rem.mu.Lock()
	rem.pushes = nil
	rem.history["alice"] = []conversation.Message{conversation.Welcome()}
	rem.mu.Unlock()

	// Reload: local (2 messages) beats remote (1) and schedules a push.
	msgs, err := s.Load(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want local's 2", len(msgs))
	}
	waitFor(t, func() bool { return rem.pushCount() == 1 })
	if got := rem.lastPush(); len(got) != 2 {
		t.Errorf("pushed %d messages, want 2", len(got))
	}
}

func TestLoadRemoteWinsOverWelcomeOnly(t *testing.T) {
	rem := &fakeRemote{history: map[string][]conversation.Message{
		"alice": {userMsg("restored")},
	}}
	s := newTestStore(t, rem, time.Hour)

	msgs, err := s.Load(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "restored" {
		t.Errorf("non-empty remote should beat a welcome-only local, got %+v", msgs)
	}
}

func TestAppendGuards(t *testing.T) {
	s := newTestStore(t, nil, time.Hour)

	if _, err := s.Append("alice", userMsg("hi")); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("append before load: got %v, want ErrNoIdentity", err)
	}
	if _, err := s.Load(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append("bob", userMsg("hi")); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("append for other identity: got %v, want ErrIdentityMismatch", err)
	}
}

func TestAppendDebounceCollapses(t *testing.T) {
	rem := &fakeRemote{history: map[string][]conversation.Message{
		"alice": {conversation.Welcome()},
	}}
	s := newTestStore(t, rem, 30*time.Millisecond)

	if _, err := s.Load(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Append("alice", userMsg(fmt.Sprintf("q%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, func() bool { return rem.pushCount() == 1 })
	time.Sleep(100 * time.Millisecond)
	if n := rem.pushCount(); n != 1 {
		t.Fatalf("rapid appends caused %d pushes, want 1", n)
	}
	if got := rem.lastPush(); len(got) != 4 {
		t.Errorf("push carried %d messages, want 4", len(got))
	}
}

func TestFlushFingerprintGate(t *testing.T) {
	rem := &fakeRemote{history: map[string][]conversation.Message{
		"alice": {conversation.Welcome()},
	}}
	s := newTestStore(t, rem, time.Hour)

	if _, err := s.Load(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append("alice", userMsg("once")); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := rem.pushCount(); n != 1 {
		t.Fatalf("first flush made %d pushes, want 1", n)
	}
	// Identical content must not be re-sent.
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := rem.pushCount(); n != 1 {
		t.Errorf("unchanged flush made %d pushes, want still 1", n)
	}
}

func TestFailedPushRetriesNextSync(t *testing.T) {
	rem := &fakeRemote{
		history: map[string][]conversation.Message{"alice": {conversation.Welcome()}},
		pushErr: errors.New("backend down"),
	}
	s := newTestStore(t, rem, time.Hour)

	if _, err := s.Load(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append("alice", userMsg("q")); err != nil {
		t.Fatal(err)
	}
	if err := s.Flush(context.Background()); err == nil {
		t.Fatal("expected push failure")
	}

	rem.mu.Lock()
	rem.pushErr = nil
	rem.mu.Unlock()

	// Failure must not record the fingerprint; the retry goes through.
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := rem.pushCount(); n != 1 {
		t.Errorf("retry made %d pushes, want 1", n)
	}
}

func TestIdentitySwitchDiscardsStaleFetch(t *testing.T) {
	rem := &fakeRemote{
		history: map[string][]conversation.Message{
			"alice": {conversation.Welcome(), userMsg("q1"), assistantMsg("a1")},
			"bob":   {conversation.Welcome()},
		},
		gateIdentity: "alice",
		started:      make(chan struct{}, 1),
		gate:         make(chan struct{}),
	}
	s := newTestStore(t, rem, time.Hour)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Load(context.Background(), "alice")
	}()

	<-rem.started
	if _, err := s.Load(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}
	close(rem.gate)
	<-done

	if got := s.Identity(); got != "bob" {
		t.Fatalf("active identity %q, want bob", got)
	}
	msgs := s.Messages()
	if len(msgs) != 1 || !conversation.IsWelcomeOnly(msgs) {
		t.Errorf("stale fetch leaked into the new session: %+v", msgs)
	}
}

func TestClearResetsToWelcome(t *testing.T) {
	rem := &fakeRemote{history: map[string][]conversation.Message{
		"alice": {conversation.Welcome(), userMsg("q1"), assistantMsg("a1")},
	}}
	s := newTestStore(t, rem, time.Hour)

	if _, err := s.Load(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.Clear()
	if err != nil {
		t.Fatal(err)
	}
	if !conversation.IsWelcomeOnly(msgs) {
		t.Fatalf("clear should reset to welcome, got %+v", msgs)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := rem.lastPush(); !conversation.IsWelcomeOnly(got) {
		t.Errorf("remote replica not reset, last push %+v", got)
	}
}

func TestFingerprintStableAcrossNormalization(t *testing.T) {
	msgs := []conversation.Message{userMsg("hello")}
	withNoise := append([]conversation.Message{{Role: "bogus", Content: "x"}}, msgs...)
	if Fingerprint(msgs) != Fingerprint(withNoise) {
		t.Error("fingerprint should be computed over the normalized set")
	}
	if Fingerprint(msgs) == Fingerprint([]conversation.Message{userMsg("other")}) {
		t.Error("different content must not collide trivially")
	}
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"xrelay/internal/feed"
	"xrelay/internal/store"
	"xrelay/internal/transport"
	"xrelay/pkg/logx"
)

type fakePoller struct {
	posts  []feed.Post
	next   string
	err    error
	cursor string
}

func (f *fakePoller) Poll(_ context.Context, cursor string) ([]feed.Post, string, error) {
	f.cursor = cursor
	if f.err != nil {
		return nil, "", f.err
	}
	return f.posts, f.next, nil
}

type fakeState struct {
	mu      sync.Mutex
	cursor  string
	saved   []string
	subs    []store.Subscriber
	saveErr error
}

func (f *fakeState) LoadCursor(context.Context) (string, error) { return f.cursor, nil }

func (f *fakeState) SaveCursor(_ context.Context, sinceID string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = sinceID
	f.saved = append(f.saved, sinceID)
	return nil
}

func (f *fakeState) Subscribers(context.Context) ([]store.Subscriber, error) {
	return f.subs, nil
}

type sendEvent struct {
	chatID  int64
	kind    string // "text" or "photo"
	url     string
	text    string
	caption string
}

type fakeSender struct {
	mu     sync.Mutex
	events []sendEvent
	fail   map[int64]bool
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to.ChatID] {
		return errors.New("blocked by user")
	}
	f.events = append(f.events, sendEvent{chatID: to.ChatID, kind: "text", text: text})
	return nil
}

func (f *fakeSender) SendPhoto(_ context.Context, to transport.ChatTarget, photoURL, caption string, _ *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to.ChatID] {
		return errors.New("blocked by user")
	}
	f.events = append(f.events, sendEvent{chatID: to.ChatID, kind: "photo", url: photoURL, caption: caption})
	return nil
}

func post(id, text string, media ...string) feed.Post {
	return feed.Post{
		ID:           id,
		Text:         text,
		AuthorHandle: "alice",
		Permalink:    "https://x.com/alice/status/" + id,
		MediaURLs:    media,
	}
}

func newTestService(p *fakePoller, st *fakeState, snd *fakeSender) *Service {
	return New(Config{PollInterval: time.Minute, SendGap: time.Microsecond}, p, st, snd, logx.Nop())
}

func TestIterationDeliversOldestFirst(t *testing.T) {
	t.Parallel()
	// Poller order is newest-first; subscribers must see oldest first.
	p := &fakePoller{posts: []feed.Post{post("100", "new"), post("99", "old")}, next: "100"}
	st := &fakeState{subs: []store.Subscriber{{ChatID: 1}, {ChatID: 2}}}
	snd := &fakeSender{}
	s := newTestService(p, st, snd)
	s.cursor = st.cursor

	s.runOnce(context.Background())

	if len(snd.events) != 4 {
		t.Fatalf("events = %d, want 4", len(snd.events))
	}
	wantOrder := []struct {
		chatID int64
		frag   string
	}{
		{1, "old"}, {2, "old"}, {1, "new"}, {2, "new"},
	}
	for i, w := range wantOrder {
		ev := snd.events[i]
		if ev.chatID != w.chatID || !strings.Contains(ev.text, w.frag) {
			t.Errorf("event %d = chat %d %q, want chat %d containing %q", i, ev.chatID, ev.text, w.chatID, w.frag)
		}
	}
	if st.cursor != "100" {
		t.Errorf("cursor = %q, want 100", st.cursor)
	}
	if s.cursor != "100" {
		t.Errorf("in-memory cursor = %q, want 100", s.cursor)
	}
}

func TestDeliveryFailureIsolated(t *testing.T) {
	t.Parallel()
	p := &fakePoller{posts: []feed.Post{post("100", "hello")}, next: "100"}
	st := &fakeState{subs: []store.Subscriber{{ChatID: 1}, {ChatID: 2}}}
	snd := &fakeSender{fail: map[int64]bool{1: true}}
	s := newTestService(p, st, snd)

	s.runOnce(context.Background())

	if len(snd.events) != 1 || snd.events[0].chatID != 2 {
		t.Fatalf("expected delivery to chat 2 despite chat 1 failing, got %v", snd.events)
	}
	if st.cursor != "100" {
		t.Errorf("cursor must still advance, got %q", st.cursor)
	}
}

func TestPollErrorAbortsIteration(t *testing.T) {
	t.Parallel()
	p := &fakePoller{err: errors.New("api down")}
	st := &fakeState{cursor: "50", subs: []store.Subscriber{{ChatID: 1}}}
	snd := &fakeSender{}
	s := newTestService(p, st, snd)
	s.cursor = "50"

	s.runOnce(context.Background())

	if len(snd.events) != 0 {
		t.Errorf("no deliveries expected, got %v", snd.events)
	}
	if len(st.saved) != 0 {
		t.Errorf("cursor must not be persisted, got %v", st.saved)
	}
	if s.cursor != "50" {
		t.Errorf("cursor = %q, want unchanged 50", s.cursor)
	}
}

func TestEmptyBatchLeavesCursorAlone(t *testing.T) {
	t.Parallel()
	p := &fakePoller{}
	st := &fakeState{cursor: "50"}
	snd := &fakeSender{}
	s := newTestService(p, st, snd)
	s.cursor = "50"

	s.runOnce(context.Background())

	if len(st.saved) != 0 || s.cursor != "50" {
		t.Fatalf("cursor changed on empty batch: saved=%v mem=%q", st.saved, s.cursor)
	}
}

func TestSaveCursorFailureKeepsMemoryCursor(t *testing.T) {
	t.Parallel()
	p := &fakePoller{posts: []feed.Post{post("100", "hello")}, next: "100"}
	st := &fakeState{cursor: "50", subs: []store.Subscriber{{ChatID: 1}}, saveErr: errors.New("disk full")}
	snd := &fakeSender{}
	s := newTestService(p, st, snd)
	s.cursor = "50"

	s.runOnce(context.Background())

	if s.cursor != "50" {
		t.Fatalf("in-memory cursor advanced past unpersisted batch: %q", s.cursor)
	}
}

func TestMediaDeliveryOrder(t *testing.T) {
	t.Parallel()
	p := &fakePoller{posts: []feed.Post{post("100", "pics", "A", "B", "C")}, next: "100"}
	st := &fakeState{subs: []store.Subscriber{{ChatID: 1}}}
	snd := &fakeSender{}
	s := newTestService(p, st, snd)

	s.runOnce(context.Background())

	if len(snd.events) != 3 {
		t.Fatalf("events = %d, want 3", len(snd.events))
	}
	first := snd.events[0]
	if first.kind != "photo" || first.url != "A" || !strings.Contains(first.caption, "pics") {
		t.Errorf("first send must be photo A with caption, got %+v", first)
	}
	for i, wantURL := range []string{"B", "C"} {
		ev := snd.events[i+1]
		if ev.kind != "photo" || ev.url != wantURL || ev.caption != "" {
			t.Errorf("extra photo %d = %+v, want captionless %s", i, ev, wantURL)
		}
	}
}

func TestTextOnlyPostUsesSendText(t *testing.T) {
	t.Parallel()
	p := &fakePoller{posts: []feed.Post{post("100", "plain")}, next: "100"}
	st := &fakeState{subs: []store.Subscriber{{ChatID: 1}}}
	snd := &fakeSender{}
	s := newTestService(p, st, snd)

	s.runOnce(context.Background())

	if len(snd.events) != 1 || snd.events[0].kind != "text" {
		t.Fatalf("expected one text send, got %v", snd.events)
	}
}

func TestRunLoadsCursorOnceAndStops(t *testing.T) {
	t.Parallel()
	p := &fakePoller{}
	st := &fakeState{cursor: "77"}
	snd := &fakeSender{}
	s := New(Config{PollInterval: time.Hour, SendGap: time.Microsecond}, p, st, snd, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// First iteration runs immediately; give it a moment, then cancel.
	deadline := time.After(2 * time.Second)
	for p.cursor != "77" {
		select {
		case <-deadline:
			t.Fatal("poller never saw the loaded cursor")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestWatermarkStrictlyIncreases(t *testing.T) {
	t.Parallel()
	st := &fakeState{cursor: "99", subs: []store.Subscriber{{ChatID: 1}}}
	snd := &fakeSender{}
	p := &fakePoller{posts: []feed.Post{post("100", "x")}, next: "100"}
	s := newTestService(p, st, snd)
	s.cursor = "99"

	s.runOnce(context.Background())

	if fmt.Sprint(st.saved) != "[100]" {
		t.Fatalf("saved = %v", st.saved)
	}
}

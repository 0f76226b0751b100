package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"xrelay/pkg/logx"
)

// fileStore keeps the whole state in one JSON document and rewrites it
// atomically (tmp + rename) on every mutation. Plenty for a subscriber set
// this size, and trivially inspectable.
type fileStore struct {
	log  logx.Logger
	path string

	mu    sync.Mutex
	state fileState

	now func() time.Time
}

type fileState struct {
	SinceID     string               `json:"since_id,omitempty"`
	Subscribers map[int64]Subscriber `json:"subscribers"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:   log,
		path:  path,
		state: fileState{Subscribers: map[int64]Subscriber{}},
		now:   time.Now,
	}

	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// fresh state
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(b, &s.state); err != nil {
			return nil, err
		}
		if s.state.Subscribers == nil {
			s.state.Subscribers = map[int64]Subscriber{}
		}
		log.Info("state loaded",
			logx.Int("subscribers", len(s.state.Subscribers)),
			logx.String("cursor", s.state.SinceID))
	}
	return s, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadCursor(ctx context.Context) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SinceID, nil
}

func (s *fileStore) SaveCursor(ctx context.Context, sinceID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SinceID = sinceID
	return s.persistLocked()
}

func (s *fileStore) UpsertSubscriber(ctx context.Context, sub Subscriber) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	prev, exists := s.state.Subscribers[sub.ChatID]
	sub.LastSeen = now
	if exists {
		sub.FirstSeen = prev.FirstSeen
	} else {
		sub.FirstSeen = now
	}
	s.state.Subscribers[sub.ChatID] = sub

	if err := s.persistLocked(); err != nil {
		return false, err
	}
	return !exists, nil
}

func (s *fileStore) Subscribers(ctx context.Context) ([]Subscriber, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Subscriber, 0, len(s.state.Subscribers))
	for _, sub := range s.state.Subscribers {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out, nil
}

func (s *fileStore) persistLocked() error {
	b, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

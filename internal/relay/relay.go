// Package relay drives the poll → format → deliver → advance-cursor cycle.
// One long-lived loop owns the watermark; per-iteration failures are isolated
// so a bad cycle never stops future cycles.
package relay

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"xrelay/internal/alert"
	"xrelay/internal/feed"
	"xrelay/internal/store"
	"xrelay/internal/transport"
	"xrelay/pkg/logx"
)

// Poller yields new posts (newest-first) and the next watermark.
type Poller interface {
	Poll(ctx context.Context, cursor string) ([]feed.Post, string, error)
}

// StateStore is the slice of the store the relay needs.
type StateStore interface {
	LoadCursor(ctx context.Context) (string, error)
	SaveCursor(ctx context.Context, sinceID string) error
	Subscribers(ctx context.Context) ([]store.Subscriber, error)
}

type Config struct {
	// PollInterval is the fixed sleep between cycles. Default 30m.
	PollInterval time.Duration

	// SendGap paces deliveries to successive subscribers. Default 150ms.
	SendGap time.Duration
}

type Service struct {
	cfg     Config
	poller  Poller
	state   StateStore
	sender  transport.Sender
	log     logx.Logger
	limiter *rate.Limiter

	// cursor is owned by the loop goroutine; it is persisted only after a
	// batch has been attempted for every subscriber.
	cursor string
}

func New(cfg Config, poller Poller, state StateStore, sender transport.Sender, log logx.Logger) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Minute
	}
	if cfg.SendGap <= 0 {
		cfg.SendGap = 150 * time.Millisecond
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg,
		poller:  poller,
		state:   state,
		sender:  sender,
		log:     log,
		limiter: rate.NewLimiter(rate.Every(cfg.SendGap), 1),
	}
}

// Run executes the loop until ctx is cancelled. The watermark is loaded once
// here and kept in memory afterwards.
func (s *Service) Run(ctx context.Context) error {
	cursor, err := s.state.LoadCursor(ctx)
	if err != nil {
		return err
	}
	s.cursor = cursor
	s.log.Info("relay started",
		logx.Duration("interval", s.cfg.PollInterval),
		logx.String("cursor", s.cursor))

	for {
		s.runOnce(ctx)

		t := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// runOnce performs a single cycle. Any failure aborts the cycle without
// advancing the watermark; the next tick retries from the same cursor.
func (s *Service) runOnce(ctx context.Context) {
	posts, next, err := s.poller.Poll(ctx, s.cursor)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("poll failed", logx.Err(err))
		return
	}
	if len(posts) == 0 {
		return
	}

	subs, err := s.state.Subscribers(ctx)
	if err != nil {
		s.log.Error("loading subscribers failed", logx.Err(err))
		return
	}
	s.log.Info("delivering batch",
		logx.Int("posts", len(posts)), logx.Int("subscribers", len(subs)))

	// The client returns newest-first; users get chronological order.
	for i := len(posts) - 1; i >= 0; i-- {
		post := posts[i]
		payload := alert.Format(post)
		for _, sub := range subs {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			if err := s.deliver(ctx, sub.ChatID, payload); err != nil {
				if ctx.Err() != nil {
					return
				}
				// Blocked bot, deleted chat, transport hiccup: skip this
				// subscriber, keep going.
				s.log.Warn("delivery failed",
					logx.Int64("chat_id", sub.ChatID),
					logx.String("post_id", post.ID),
					logx.Err(err))
			}
		}
	}

	if next == "" {
		return
	}
	if err := s.state.SaveCursor(ctx, next); err != nil {
		// Keep the old in-memory cursor too: rather re-deliver than drop.
		s.log.Error("persisting cursor failed", logx.String("cursor", next), logx.Err(err))
		return
	}
	s.cursor = next
	s.log.Info("cursor advanced", logx.String("cursor", next))
}

// deliver sends one formatted alert to one chat: the caption-bearing photo
// (or plain text) first, then the extra photos in order.
func (s *Service) deliver(ctx context.Context, chatID int64, p alert.Payload) error {
	to := transport.ChatTarget{ChatID: chatID}
	opt := &transport.SendOptions{ParseMode: "HTML"}

	if p.PhotoURL != "" {
		if err := s.sender.SendPhoto(ctx, to, p.PhotoURL, p.Text, opt); err != nil {
			return err
		}
	} else {
		if err := s.sender.SendText(ctx, to, p.Text, opt); err != nil {
			return err
		}
	}
	for _, u := range p.ExtraPhotos {
		if err := s.sender.SendPhoto(ctx, to, u, "", nil); err != nil {
			return err
		}
	}
	return nil
}

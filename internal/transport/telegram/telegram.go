// Package telegram adapts the telebot long-poll client to the transport
// contracts the rest of the bot consumes.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"xrelay/internal/runtime/supervisor"
	"xrelay/internal/transport"
	"xrelay/pkg/logx"
)

const (
	textLimit    = 4096
	captionLimit = 1024
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

// OnStart registers the /start command handler. fn returns the reply text;
// an empty reply sends nothing. Must be called before Start().
func (a *Adapter) OnStart(fn func(ctx context.Context, u transport.User) string) {
	a.bot.Handle("/start", func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		u := transport.User{
			ID:        sender.ID,
			Username:  sender.Username,
			FirstName: sender.FirstName,
		}
		reply := fn(context.Background(), u)
		if reply == "" {
			return nil
		}
		return c.Send(reply)
	})
}

// Start launches the long-poll loop under a supervisor. Telebot's Start()
// can exit unexpectedly in some failure modes, so it runs with restarts.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return nil
	}
	a.running = true
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		a.bot.Stop()
		return nil
	})

	a.sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
		return nil
	}, 500*time.Millisecond, 10*time.Second)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	sup.Cancel()

	// telebot Stop should be fast; run it async just in case.
	go a.bot.Stop()

	// Keep shutdown snappy even if the long-poll is still waiting.
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sup.Wait(wctx)
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, truncate(text, textLimit), sendOptions(opt))
	return err
}

func (a *Adapter) SendPhoto(ctx context.Context, to transport.ChatTarget, photoURL, caption string, opt *transport.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := &tele.Photo{
		File:    tele.FromURL(photoURL),
		Caption: truncate(caption, captionLimit),
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, sendOptions(opt))
	return err
}

func sendOptions(opt *transport.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	return &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes-1]) + "…"
}

// Package notify delivers best-effort failure reports to a designated admin
// chat. The notifier itself must never fail loudly: send errors are logged
// and dropped.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"xrelay/internal/transport"
	"xrelay/pkg/logx"
)

const (
	maxErrorChars = 300
	maxStackChars = 3000
	stackHead     = 1500
	stackTail     = 1000
)

type Admin struct {
	sender  transport.Sender
	chatID  int64
	log     logx.Logger
	limiter *rate.Limiter
}

// NewAdmin builds the notifier. chatID 0 disables it (all reports become
// no-ops).
func NewAdmin(sender transport.Sender, chatID int64, log logx.Logger) *Admin {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Admin{
		sender: sender,
		chatID: chatID,
		log:    log,
		// A crash loop should not turn into a message flood.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
	}
}

func (a *Admin) Enabled() bool { return a != nil && a.chatID != 0 }

// ReportFailure sends a truncated failure summary to the admin chat.
// Safe to call from any goroutine, with any ctx, and never panics.
func (a *Admin) ReportFailure(ctx context.Context, component string, err error, stack string) {
	if !a.Enabled() || err == nil {
		return
	}
	if !a.limiter.Allow() {
		return
	}

	var b strings.Builder
	b.WriteString("🚨 Bot error\n")
	fmt.Fprintf(&b, "Component: %s\n", component)
	fmt.Fprintf(&b, "Error: %s", truncateTo(err.Error(), maxErrorChars))
	if stack = strings.TrimSpace(stack); stack != "" {
		b.WriteString("\n\n")
		b.WriteString(truncateMiddle(stack, maxStackChars, stackHead, stackTail))
	}

	// The failing context may already be cancelled; the report still has to
	// go out, just not forever.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	to := transport.ChatTarget{ChatID: a.chatID}
	opt := &transport.SendOptions{DisablePreview: true}
	if sendErr := a.sender.SendText(sendCtx, to, b.String(), opt); sendErr != nil {
		a.log.Warn("admin notification failed", logx.Err(sendErr))
	}
}

func truncateTo(s string, maxN int) string {
	if len(s) <= maxN {
		return s
	}
	return s[:maxN]
}

// truncateMiddle keeps the head and tail of an overlong string; stack traces
// carry their signal at both ends.
func truncateMiddle(s string, maxN, head, tail int) string {
	if len(s) <= maxN {
		return s
	}
	return s[:head] + "\n...\n" + s[len(s)-tail:]
}

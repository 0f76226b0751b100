// Package feed polls the X API v2 recent-search endpoint for new posts from
// a fixed set of monitored handles and reconciles the response side-tables
// (authors, media) into flat Post values.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/michimani/gotwi"

	"xrelay/pkg/logx"
)

const (
	searchRecentEndpoint = "https://api.x.com/2/tweets/search/recent"
	permalinkTemplate    = "https://x.com/%s/status/%s"

	// The endpoint caps a page at 100 items; no further pagination is done.
	maxResultsPerPoll = 100
)

type Config struct {
	BearerToken string
	WatchUsers  []string

	// BackfillWindow bounds the start_time query used when no cursor exists
	// and as the stale-cursor fallback.
	BackfillWindow time.Duration

	HTTPTimeout time.Duration
}

// searchCaller is the single wire call, abstracted for tests.
type searchCaller interface {
	search(ctx context.Context, p *searchParams) (*searchResponse, error)
}

type gotwiCaller struct {
	api *gotwi.Client
}

func (g *gotwiCaller) search(ctx context.Context, p *searchParams) (*searchResponse, error) {
	var res searchResponse
	if err := g.api.CallAPI(ctx, searchRecentEndpoint, http.MethodGet, p, &res); err != nil {
		return nil, fmt.Errorf("search recent: %w", summarizeAPIError(err))
	}
	return &res, nil
}

type Client struct {
	caller searchCaller
	watch  []string
	window time.Duration
	log    logx.Logger
	now    func() time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BearerToken) == "" {
		return nil, errors.New("feed: bearer token is empty")
	}
	if len(cfg.WatchUsers) == 0 {
		return nil, errors.New("feed: no handles to watch")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	api, err := gotwi.NewClientWithAccessToken(&gotwi.NewClientWithAccessTokenInput{
		AccessToken: cfg.BearerToken,
		HTTPClient:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("feed: create X client: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	window := cfg.BackfillWindow
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Client{
		caller: &gotwiCaller{api: api},
		watch:  cfg.WatchUsers,
		window: window,
		log:    log,
		now:    time.Now,
	}, nil
}

// buildQuery builds the recent-search filter: (from:user1 OR from:user2).
func buildQuery(handles []string) string {
	parts := make([]string, 0, len(handles))
	for _, h := range handles {
		parts = append(parts, "from:"+strings.TrimSpace(h))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

func (c *Client) newParams() *searchParams {
	return &searchParams{
		query:      buildQuery(c.watch),
		maxResults: maxResultsPerPoll,
	}
}

// Poll fetches posts newer than cursor (all monitored handles combined) and
// returns them newest-first along with the next watermark.
//
// An empty cursor means no poll has ever completed; the query then covers
// the backfill window instead. A since-id query that comes back empty is
// retried once with the time window before Poll concludes there is nothing
// new: the remote keeps since-id validity only for a bounded recent window,
// so an empty since-id batch is not proof of an empty feed.
func (c *Client) Poll(ctx context.Context, cursor string) ([]Post, string, error) {
	params := c.newParams()
	if cursor != "" {
		params.sinceID = cursor
	} else {
		params.startTime = c.now().Add(-c.window)
	}

	res, err := c.caller.search(ctx, params)
	if err != nil {
		return nil, "", err
	}

	if len(res.Data) == 0 && cursor != "" {
		c.log.Warn("since_id query returned no items, falling back to time window",
			logx.String("since_id", cursor), logx.Duration("window", c.window))
		params = c.newParams()
		params.startTime = c.now().Add(-c.window)
		res, err = c.caller.search(ctx, params)
		if err != nil {
			return nil, "", err
		}
	}

	if len(res.Data) == 0 {
		c.log.Info("poll returned no items")
		return nil, "", nil
	}

	posts := reconcile(res)

	next := ""
	for _, p := range posts {
		if greaterID(p.ID, next) {
			next = p.ID
		}
	}

	c.log.Info("poll completed", logx.Int("items", len(posts)), logx.String("next_cursor", next))
	return posts, next, nil
}

// reconcile joins the response's primary items against the author and media
// side-tables. The lookup maps live only for this call.
func reconcile(res *searchResponse) []Post {
	authors := make(map[string]userInclude, len(res.Includes.Users))
	for _, u := range res.Includes.Users {
		authors[u.ID] = u
	}

	// Photos carry a direct URL; videos and GIFs only a preview thumbnail.
	// Entries with neither are dropped.
	media := make(map[string]string, len(res.Includes.Media))
	for _, m := range res.Includes.Media {
		if m.MediaKey == "" {
			continue
		}
		u := m.PreviewImageURL
		if m.Type == "photo" {
			u = m.URL
		}
		if u != "" {
			media[m.MediaKey] = u
		}
	}

	posts := make([]Post, 0, len(res.Data))
	for _, t := range res.Data {
		author := authors[t.AuthorID]

		var mediaURLs []string
		var mediaKeys []string
		if t.Attachments != nil {
			mediaKeys = t.Attachments.MediaKeys
		}
		for _, mk := range mediaKeys {
			if u, ok := media[mk]; ok {
				mediaURLs = append(mediaURLs, u)
			}
		}

		text := t.Text
		if len(mediaKeys) > 0 && t.Entities != nil {
			text = trimMediaLinks(text, t.Entities.URLs)
		}

		posts = append(posts, Post{
			ID:                t.ID,
			Text:              text,
			CreatedAt:         t.CreatedAt,
			Permalink:         fmt.Sprintf(permalinkTemplate, author.Username, t.ID),
			AuthorHandle:      author.Username,
			AuthorDisplayName: author.Name,
			AuthorFollowers:   author.PublicMetrics.FollowersCount,
			AuthorVerified:    author.Verified || author.VerifiedType != "",
			MediaURLs:         mediaURLs,
		})
	}
	return posts
}

// trimMediaLinks removes shortened links whose expanded form names a photo or
// video resource. Entity offsets are rune offsets into the original text, so
// spans are removed back-to-front to keep earlier offsets valid.
func trimMediaLinks(text string, urls []urlEntity) string {
	runes := []rune(text)
	for i := len(urls) - 1; i >= 0; i-- {
		u := urls[i]
		if !strings.Contains(u.ExpandedURL, "photo") && !strings.Contains(u.ExpandedURL, "video") {
			continue
		}
		start, end := u.Start, u.End
		if start < 0 || end > len(runes) || start > end {
			continue
		}
		trimmed := append([]rune{}, runes[:start]...)
		runes = append(trimmed, runes[end:]...)
		runes = []rune(strings.TrimRight(string(runes), " \t\n"))
	}
	return string(runes)
}

// greaterID compares ids as digit strings numerically: a longer string is
// larger, equal lengths compare lexically. Avoids overflow on 64-bit-sized
// ids without pulling in big-int math.
func greaterID(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}

func summarizeAPIError(err error) error {
	var gwErr *gotwi.GotwiError
	if !errors.As(err, &gwErr) || gwErr == nil {
		return err
	}
	parts := make([]string, 0, 3)
	if gwErr.Title != "" {
		parts = append(parts, gwErr.Title)
	}
	if gwErr.Detail != "" {
		parts = append(parts, gwErr.Detail)
	}
	for _, apiErr := range gwErr.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		return err
	}
	return errors.New(strings.Join(parts, "; "))
}

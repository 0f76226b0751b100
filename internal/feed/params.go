package feed

import (
	"io"
	"net/url"
	"strconv"
	"time"
)

// searchParams implements gotwi's request parameter contract
// (SetAccessToken/AccessToken/ResolveEndpoint/Body/ParameterMap) so the
// search call can ride on gotwi's authenticated transport.
type searchParams struct {
	accessToken string

	query      string
	maxResults int

	// sinceID and startTime are mutually exclusive; sinceID wins when set.
	sinceID   string
	startTime time.Time
}

func (p *searchParams) SetAccessToken(token string) { p.accessToken = token }
func (p *searchParams) AccessToken() string         { return p.accessToken }

func (p *searchParams) Body() (io.Reader, error) { return nil, nil }

func (p *searchParams) ParameterMap() map[string]string {
	m := map[string]string{
		"query":        p.query,
		"max_results":  strconv.Itoa(p.maxResults),
		"sort_order":   "recency",
		"tweet.fields": "created_at,text,entities",
		"expansions":   "author_id,attachments.media_keys",
		"user.fields":  "username,name,public_metrics,verified,verified_type",
		"media.fields": "preview_image_url,url,type",
	}
	if p.sinceID != "" {
		m["since_id"] = p.sinceID
	} else if !p.startTime.IsZero() {
		m["start_time"] = p.startTime.UTC().Format("2006-01-02T15:04:05Z")
	}
	return m
}

func (p *searchParams) ResolveEndpoint(endpointBase string) string {
	q := url.Values{}
	for k, v := range p.ParameterMap() {
		q.Set(k, v)
	}
	return endpointBase + "?" + q.Encode()
}

package feed

import "time"

// Post is one fetched item from a monitored account, fully denormalized at
// fetch time. Posts are never persisted; they live from poll to delivery.
type Post struct {
	ID        string
	Text      string
	CreatedAt time.Time
	Permalink string

	AuthorHandle      string
	AuthorDisplayName string
	AuthorFollowers   int
	AuthorVerified    bool

	// MediaURLs are image (or video/GIF preview) URLs, in attachment order.
	MediaURLs []string
}

// ---- Wire types for /2/tweets/search/recent ----

type searchResponse struct {
	Data     []tweetItem `json:"data"`
	Includes includes    `json:"includes"`
	Meta     searchMeta  `json:"meta"`
}

// HasPartialError satisfies the gotwi response contract.
func (searchResponse) HasPartialError() bool { return false }

type tweetItem struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	CreatedAt   time.Time    `json:"created_at"`
	AuthorID    string       `json:"author_id"`
	Attachments *attachments `json:"attachments,omitempty"`
	Entities    *entities    `json:"entities,omitempty"`
}

type attachments struct {
	MediaKeys []string `json:"media_keys"`
}

type entities struct {
	URLs []urlEntity `json:"urls"`
}

type urlEntity struct {
	Start       int    `json:"start"`
	End         int    `json:"end"`
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
}

type includes struct {
	Users []userInclude  `json:"users"`
	Media []mediaInclude `json:"media"`
}

type userInclude struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Username      string        `json:"username"`
	Verified      bool          `json:"verified"`
	VerifiedType  string        `json:"verified_type"`
	PublicMetrics publicMetrics `json:"public_metrics"`
}

type publicMetrics struct {
	FollowersCount int `json:"followers_count"`
}

type mediaInclude struct {
	MediaKey        string `json:"media_key"`
	Type            string `json:"type"`
	URL             string `json:"url"`
	PreviewImageURL string `json:"preview_image_url"`
}

type searchMeta struct {
	ResultCount int    `json:"result_count"`
	NewestID    string `json:"newest_id"`
}

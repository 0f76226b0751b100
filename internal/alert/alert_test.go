package alert

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"xrelay/internal/feed"
)

func samplePost(media ...string) feed.Post {
	return feed.Post{
		ID:                "100",
		Text:              "1 < 2 & cats",
		CreatedAt:         time.Date(2025, 6, 1, 11, 50, 0, 0, time.UTC),
		Permalink:         "https://x.com/alice/status/100",
		AuthorHandle:      "alice",
		AuthorDisplayName: "Alice <A>",
		MediaURLs:         media,
	}
}

func TestFormatText(t *testing.T) {
	t.Parallel()
	got := Format(samplePost())

	if !strings.HasPrefix(got.Text, "<b>@alice</b> (Alice &lt;A&gt;)\n") {
		t.Errorf("author line wrong:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, "1 &lt; 2 &amp; cats") {
		t.Errorf("post text not escaped:\n%s", got.Text)
	}
	if !strings.Contains(got.Text, `<a href="https://x.com/alice/status/100">Open on X</a>`) {
		t.Errorf("permalink missing:\n%s", got.Text)
	}
	if !strings.HasSuffix(got.Text, footerLine) {
		t.Errorf("footer missing:\n%s", got.Text)
	}
	if got.PhotoURL != "" || len(got.ExtraPhotos) != 0 {
		t.Errorf("no media expected, got %q %v", got.PhotoURL, got.ExtraPhotos)
	}
}

func TestFormatMediaFanout(t *testing.T) {
	t.Parallel()
	got := Format(samplePost("A", "B", "C"))
	if got.PhotoURL != "A" {
		t.Errorf("PhotoURL = %q, want A", got.PhotoURL)
	}
	if !reflect.DeepEqual(got.ExtraPhotos, []string{"B", "C"}) {
		t.Errorf("ExtraPhotos = %v, want [B C]", got.ExtraPhotos)
	}

	single := Format(samplePost("A"))
	if single.PhotoURL != "A" || len(single.ExtraPhotos) != 0 {
		t.Errorf("single media: %q %v", single.PhotoURL, single.ExtraPhotos)
	}
}

func TestFormatDeterministic(t *testing.T) {
	t.Parallel()
	p := samplePost("A", "B")
	first := Format(p)
	second := Format(p)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Format is not deterministic:\n%+v\n%+v", first, second)
	}
}

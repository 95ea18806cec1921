package listing

import (
	"encoding/json"
	"time"
)

// Review is one platform review as reported by the listing API.
type Review struct {
	ExternalID string          `json:"review_id"`
	Reviewer   string          `json:"reviewer"`
	Rating     float64         `json:"rating"`
	Comment    string          `json:"comment"`
	CreateTime *time.Time      `json:"create_time"`
	UpdateTime time.Time       `json:"update_time"`
	Raw        json.RawMessage `json:"-"`
}

// Photo is one platform media item.
type Photo struct {
	ExternalID   string          `json:"media_id"`
	MediaURL     string          `json:"media_url"`
	ThumbnailURL string          `json:"thumbnail_url"`
	Category     string          `json:"category"`
	CreateTime   *time.Time      `json:"create_time"`
	UpdateTime   time.Time       `json:"update_time"`
	Raw          json.RawMessage `json:"-"`
}

// Post is one platform post. Some sources report no stable post id; for those
// the client synthesizes ExternalID as "<source>:<source-id>" so the identity
// stays stable across fetches.
type Post struct {
	ExternalID string          `json:"post_id"`
	Source     string          `json:"source"`
	SourceID   string          `json:"source_id"`
	Summary    string          `json:"summary"`
	MediaURL   string          `json:"media_url"`
	CreateTime *time.Time      `json:"create_time"`
	UpdateTime time.Time       `json:"update_time"`
	Raw        json.RawMessage `json:"-"`
}

type ReviewPage struct {
	Items         []Review `json:"reviews"`
	NextPageToken string   `json:"next_page_token"`
}

type PhotoPage struct {
	Items         []Photo `json:"media_items"`
	NextPageToken string  `json:"next_page_token"`
}

type PostPage struct {
	Items         []Post `json:"posts"`
	NextPageToken string `json:"next_page_token"`
}

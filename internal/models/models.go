package models

import (
	"strings"
	"time"
)

// Track is one playout event's metadata as delivered by the playout system.
// Immutable once received; posts reference tracks by playout row id.
type Track struct {
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Album     string `json:"album,omitempty"`
	Year      int    `json:"year,omitempty"`
	Publisher string `json:"publisher,omitempty"`
	ISRC      string `json:"isrc,omitempty"`
	Image     string `json:"image,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	MediaID   string `json:"media_id,omitempty"`
	Program   string `json:"program,omitempty"`
	Presenter string `json:"presenter,omitempty"`
}

func (t Track) Valid() bool {
	return strings.TrimSpace(t.Artist) != "" && strings.TrimSpace(t.Title) != ""
}

// Playout is a stored track play, logged for reporting before any
// publishing happens.
type Playout struct {
	ID       int64
	Track    Track
	PlayedAt time.Time
}

// Post records one publish to one platform for one track.
//
// RemoteID may be a locally synthesized placeholder when the platform
// returns no usable id; Synthetic marks those so the engagement poller can
// skip them. Rows are append-only except for the Deleted flag.
type Post struct {
	ID        int64
	Platform  string
	RemoteID  string
	Synthetic bool
	TrackID   int64
	Artist    string
	Title     string
	PostedAt  time.Time
	Content   string
	HasImage  bool
	Deleted   bool
}

// Engagement is one point-in-time measurement of a post's metrics.
// Append-only; deltas come from comparing the two most recent rows per post.
type Engagement struct {
	ID        int64
	PostID    int64
	CheckedAt time.Time
	Likes     int
	Shares    int
	Comments  int
	Clicks    int
}

// Score is the composite ranking used by the analytics reporter.
func (e Engagement) Score() int {
	return e.Likes + 2*e.Shares + 3*e.Comments
}

// Token is one credential row for a platform. Multiple rows form the
// history; the most recently created row is the only one consulted for
// posting. ExpiresAt zero means unknown/non-expiring.
type Token struct {
	ID          int64
	Platform    string
	AccessToken string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Metadata    map[string]string
}

func (t Token) Expires() bool { return !t.ExpiresAt.IsZero() }

// TTL returns the remaining lifetime at the given instant.
// Zero or negative means expired; tokens without expiry report a huge TTL.
func (t Token) TTL(now time.Time) time.Duration {
	if !t.Expires() {
		return time.Duration(1<<63 - 1)
	}
	return t.ExpiresAt.Sub(now)
}

// PostFailure marks a failed publish attempt for analytics. Failures never
// create Post rows.
type PostFailure struct {
	ID       int64
	Platform string
	Artist   string
	Title    string
	Class    string
	Error    string
	FailedAt time.Time
}

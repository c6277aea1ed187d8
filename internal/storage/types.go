package storage

import (
	"context"
	"errors"
	"time"

	"myrcat/internal/models"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// PlatformStats aggregates engagement for one platform over a window.
type PlatformStats struct {
	Platform    string
	Posts       int
	Failures    int
	Likes       int
	Shares      int
	Comments    int
	Clicks      int
	AvgLikes    float64
	AvgShares   float64
	AvgComments float64
}

// TrackStats ranks a track by summed engagement across its posts.
type TrackStats struct {
	Artist   string
	Title    string
	Album    string
	Posts    int
	Likes    int
	Shares   int
	Comments int
	Score    int
}

// Store is the persistence API used by the dispatcher, poller, reporter and
// credential manager. Implementations must serialize concurrent writers and
// keep every row write atomic.
type Store interface {
	// Playouts.
	InsertPlayout(ctx context.Context, track models.Track, playedAt time.Time) (int64, error)

	// Posts.
	InsertPost(ctx context.Context, p models.Post) (int64, error)
	MarkPostDeleted(ctx context.Context, id int64) error
	LastPostTime(ctx context.Context, platform string) (time.Time, bool, error)
	ArtistsPostedSince(ctx context.Context, platform string, since time.Time) ([]string, error)
	PostsSince(ctx context.Context, platform string, since time.Time) ([]models.Post, error)

	// Engagement.
	InsertEngagement(ctx context.Context, e models.Engagement) error
	LatestEngagements(ctx context.Context, postID int64, limit int) ([]models.Engagement, error)

	// Tokens.
	InsertToken(ctx context.Context, t models.Token) (int64, error)
	CurrentToken(ctx context.Context, platform string) (models.Token, error)
	TokenHistory(ctx context.Context, platform string, limit int) ([]models.Token, error)

	// Failures and analytics.
	InsertFailure(ctx context.Context, f models.PostFailure) error
	PlatformStats(ctx context.Context, platform string, since time.Time) (PlatformStats, error)
	TopTracks(ctx context.Context, since time.Time, limit int) ([]TrackStats, error)

	// PruneBefore removes posts, their engagement rows, failures and
	// playouts older than cutoff. Returns the number of posts removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

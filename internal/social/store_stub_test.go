package social

import (
	"context"
	"sync"
	"time"

	"myrcat/internal/models"
	"myrcat/internal/storage"
)

// stubStore is an in-memory Store for pipeline tests. Error fields force
// failures on specific paths.
type stubStore struct {
	mu sync.Mutex

	playouts    []models.Playout
	posts       []models.Post
	engagements []models.Engagement
	tokens      []models.Token
	failures    []models.PostFailure

	errInsertPost    error
	errLastPostTime  error
	errArtistsSince  error
	errCurrentToken  error
	currentTokenHits int
	latestHits       int
}

func newStubStore() *stubStore { return &stubStore{} }

func (s *stubStore) InsertPlayout(_ context.Context, track models.Track, playedAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.playouts) + 1)
	s.playouts = append(s.playouts, models.Playout{ID: id, Track: track, PlayedAt: playedAt})
	return id, nil
}

func (s *stubStore) InsertPost(_ context.Context, p models.Post) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errInsertPost != nil {
		return 0, s.errInsertPost
	}
	p.ID = int64(len(s.posts) + 1)
	s.posts = append(s.posts, p)
	return p.ID, nil
}

func (s *stubStore) MarkPostDeleted(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.posts {
		if s.posts[i].ID == id {
			s.posts[i].Deleted = true
		}
	}
	return nil
}

func (s *stubStore) LastPostTime(_ context.Context, platform string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errLastPostTime != nil {
		return time.Time{}, false, s.errLastPostTime
	}
	var last time.Time
	found := false
	for _, p := range s.posts {
		if p.Platform == platform && !p.Deleted && p.PostedAt.After(last) {
			last, found = p.PostedAt, true
		}
	}
	return last, found, nil
}

func (s *stubStore) ArtistsPostedSince(_ context.Context, platform string, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errArtistsSince != nil {
		return nil, s.errArtistsSince
	}
	var out []string
	for _, p := range s.posts {
		if p.Platform == platform && !p.Deleted && !p.PostedAt.Before(since) {
			out = append(out, p.Artist)
		}
	}
	return out, nil
}

func (s *stubStore) PostsSince(_ context.Context, platform string, since time.Time) ([]models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Post
	for _, p := range s.posts {
		if p.Platform == platform && !p.PostedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStore) InsertEngagement(_ context.Context, e models.Engagement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.engagements) + 1)
	s.engagements = append(s.engagements, e)
	return nil
}

func (s *stubStore) LatestEngagements(_ context.Context, postID int64, limit int) ([]models.Engagement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestHits++
	var out []models.Engagement
	for i := len(s.engagements) - 1; i >= 0 && len(out) < limit; i-- {
		if s.engagements[i].PostID == postID {
			out = append(out, s.engagements[i])
		}
	}
	return out, nil
}

func (s *stubStore) InsertToken(_ context.Context, t models.Token) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = int64(len(s.tokens) + 1)
	s.tokens = append(s.tokens, t)
	return t.ID, nil
}

func (s *stubStore) CurrentToken(_ context.Context, platform string) (models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTokenHits++
	if s.errCurrentToken != nil {
		return models.Token{}, s.errCurrentToken
	}
	var best models.Token
	found := false
	for _, t := range s.tokens {
		if t.Platform == platform && (!found || t.CreatedAt.After(best.CreatedAt) || (t.CreatedAt.Equal(best.CreatedAt) && t.ID > best.ID)) {
			best, found = t, true
		}
	}
	if !found {
		return models.Token{}, storage.ErrNotFound
	}
	return best, nil
}

func (s *stubStore) TokenHistory(_ context.Context, platform string, limit int) ([]models.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Token
	for i := len(s.tokens) - 1; i >= 0 && len(out) < limit; i-- {
		if s.tokens[i].Platform == platform {
			out = append(out, s.tokens[i])
		}
	}
	return out, nil
}

func (s *stubStore) InsertFailure(_ context.Context, f models.PostFailure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.ID = int64(len(s.failures) + 1)
	s.failures = append(s.failures, f)
	return nil
}

func (s *stubStore) PlatformStats(context.Context, string, time.Time) (storage.PlatformStats, error) {
	return storage.PlatformStats{}, nil
}

func (s *stubStore) TopTracks(context.Context, time.Time, int) ([]storage.TrackStats, error) {
	return nil, nil
}

func (s *stubStore) PruneBefore(context.Context, time.Time) (int, error) { return 0, nil }

func (s *stubStore) Close() error { return nil }

func (s *stubStore) snapshotPosts() []models.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Post(nil), s.posts...)
}

func (s *stubStore) snapshotFailures() []models.PostFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PostFailure(nil), s.failures...)
}

func (s *stubStore) snapshotEngagements() []models.Engagement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Engagement(nil), s.engagements...)
}

func (s *stubStore) snapshotTokens() []models.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Token(nil), s.tokens...)
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"myrcat/internal/models"
	logx "myrcat/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPlayoutAndPostRoundtrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	trackID, err := st.InsertPlayout(ctx, models.Track{
		Artist: "The Kinks", Title: "Waterloo Sunset", Album: "Something Else", Duration: 192,
	}, now)
	if err != nil {
		t.Fatalf("InsertPlayout error: %v", err)
	}
	if trackID == 0 {
		t.Fatal("InsertPlayout returned zero id")
	}

	postID, err := st.InsertPost(ctx, models.Post{
		Platform: "bluesky", RemoteID: "at://post/1", TrackID: trackID,
		Artist: "The Kinks", Title: "Waterloo Sunset", PostedAt: now, Content: "caption", HasImage: true,
	})
	if err != nil {
		t.Fatalf("InsertPost error: %v", err)
	}

	posts, err := st.PostsSince(ctx, "bluesky", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("PostsSince error: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	got := posts[0]
	if got.ID != postID || got.RemoteID != "at://post/1" || got.TrackID != trackID ||
		!got.HasImage || got.Synthetic || got.Deleted || !got.PostedAt.Equal(now) {
		t.Fatalf("post = %+v", got)
	}
}

func TestLastPostTime(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, found, err := st.LastPostTime(ctx, "bluesky"); err != nil || found {
		t.Fatalf("empty store: found=%v err=%v", found, err)
	}

	for _, at := range []time.Time{now.Add(-2 * time.Hour), now.Add(-time.Hour)} {
		if _, err := st.InsertPost(ctx, models.Post{
			Platform: "bluesky", RemoteID: "x", Artist: "a", Title: "t", PostedAt: at,
		}); err != nil {
			t.Fatalf("InsertPost error: %v", err)
		}
	}

	last, found, err := st.LastPostTime(ctx, "bluesky")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if !last.Equal(now.Add(-time.Hour)) {
		t.Fatalf("last = %v, want %v", last, now.Add(-time.Hour))
	}
}

func TestMarkPostDeletedExcludesFromQueries(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, _ := st.InsertPost(ctx, models.Post{
		Platform: "bluesky", RemoteID: "x", Artist: "The Kinks", Title: "t", PostedAt: now,
	})
	if err := st.MarkPostDeleted(ctx, id); err != nil {
		t.Fatalf("MarkPostDeleted error: %v", err)
	}

	if _, found, _ := st.LastPostTime(ctx, "bluesky"); found {
		t.Fatal("deleted post must not count as last post")
	}
	artists, _ := st.ArtistsPostedSince(ctx, "bluesky", now.Add(-time.Hour))
	if len(artists) != 0 {
		t.Fatalf("artists = %v, want none", artists)
	}
	if err := st.MarkPostDeleted(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkPostDeleted(miss) = %v, want ErrNotFound", err)
	}
}

func TestTokenHistoryAndCurrent(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := st.CurrentToken(ctx, "facebook"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CurrentToken(empty) = %v, want ErrNotFound", err)
	}

	_, _ = st.InsertToken(ctx, models.Token{
		Platform: "facebook", AccessToken: "old", CreatedAt: now.Add(-48 * time.Hour),
	})
	_, _ = st.InsertToken(ctx, models.Token{
		Platform: "facebook", AccessToken: "new", CreatedAt: now,
		ExpiresAt: now.Add(60 * 24 * time.Hour),
		Metadata:  map[string]string{"source": "exchange"},
	})

	cur, err := st.CurrentToken(ctx, "facebook")
	if err != nil {
		t.Fatalf("CurrentToken error: %v", err)
	}
	if cur.AccessToken != "new" || !cur.Expires() || cur.Metadata["source"] != "exchange" {
		t.Fatalf("current = %+v", cur)
	}

	hist, err := st.TokenHistory(ctx, "facebook", 10)
	if err != nil {
		t.Fatalf("TokenHistory error: %v", err)
	}
	if len(hist) != 2 || hist[0].AccessToken != "new" || hist[1].AccessToken != "old" {
		t.Fatalf("history = %+v, want newest first", hist)
	}
}

func TestPlatformStatsUsesLatestSnapshotOnly(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, _ := st.InsertPost(ctx, models.Post{
		Platform: "bluesky", RemoteID: "x", Artist: "a", Title: "t", PostedAt: now.Add(-time.Hour),
	})
	_ = st.InsertEngagement(ctx, models.Engagement{PostID: id, Likes: 2, CheckedAt: now.Add(-30 * time.Minute)})
	_ = st.InsertEngagement(ctx, models.Engagement{PostID: id, Likes: 7, Shares: 1, CheckedAt: now})
	_ = st.InsertFailure(ctx, models.PostFailure{Platform: "bluesky", Class: "transient", FailedAt: now})

	stats, err := st.PlatformStats(ctx, "bluesky", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("PlatformStats error: %v", err)
	}
	if stats.Posts != 1 || stats.Failures != 1 {
		t.Fatalf("posts=%d failures=%d, want 1/1", stats.Posts, stats.Failures)
	}
	if stats.Likes != 7 || stats.Shares != 1 {
		t.Fatalf("likes=%d shares=%d, want latest snapshot only (7/1)", stats.Likes, stats.Shares)
	}
}

func TestTopTracksRanksByScore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	low, _ := st.InsertPost(ctx, models.Post{
		Platform: "bluesky", RemoteID: "1", Artist: "Quiet Band", Title: "B-side", PostedAt: now.Add(-time.Hour),
	})
	high, _ := st.InsertPost(ctx, models.Post{
		Platform: "bluesky", RemoteID: "2", Artist: "Big Act", Title: "Hit", PostedAt: now.Add(-time.Hour),
	})
	_ = st.InsertEngagement(ctx, models.Engagement{PostID: low, Likes: 1, CheckedAt: now})
	// score = 2 + 2*3 + 3*1 = 11
	_ = st.InsertEngagement(ctx, models.Engagement{PostID: high, Likes: 2, Shares: 3, Comments: 1, CheckedAt: now})

	top, err := st.TopTracks(ctx, now.Add(-2*time.Hour), 10)
	if err != nil {
		t.Fatalf("TopTracks error: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("tracks = %d, want 2", len(top))
	}
	if top[0].Artist != "Big Act" || top[0].Score != 11 {
		t.Fatalf("top[0] = %+v, want Big Act with score 11", top[0])
	}
	if top[1].Artist != "Quiet Band" || top[1].Score != 1 {
		t.Fatalf("top[1] = %+v", top[1])
	}
}

func TestPruneBefore(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, -90)

	oldID, _ := st.InsertPost(ctx, models.Post{
		Platform: "bluesky", RemoteID: "old", Artist: "a", Title: "t", PostedAt: cutoff.Add(-time.Hour),
	})
	_ = st.InsertEngagement(ctx, models.Engagement{PostID: oldID, Likes: 1, CheckedAt: cutoff.Add(-time.Hour)})
	_, _ = st.InsertPost(ctx, models.Post{
		Platform: "bluesky", RemoteID: "fresh", Artist: "a", Title: "t", PostedAt: now,
	})

	n, err := st.PruneBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("PruneBefore error: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned = %d, want 1", n)
	}

	posts, _ := st.PostsSince(ctx, "bluesky", cutoff.Add(-24*time.Hour))
	if len(posts) != 1 || posts[0].RemoteID != "fresh" {
		t.Fatalf("remaining posts = %+v, want only the fresh one", posts)
	}
	if rows, _ := st.LatestEngagements(ctx, oldID, 10); len(rows) != 0 {
		t.Fatal("engagement rows for pruned post must be gone")
	}
}

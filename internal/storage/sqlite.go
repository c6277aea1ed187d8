package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"myrcat/internal/models"
	logx "myrcat/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the sqlite store, creating the schema if needed.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertPlayout(ctx context.Context, t models.Track, playedAt time.Time) (int64, error) {
	if playedAt.IsZero() {
		playedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO playouts(artist, title, album, year, publisher, isrc, duration, media_id, program, presenter, played_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		t.Artist, t.Title, nullStr(t.Album), nullInt(t.Year), nullStr(t.Publisher), nullStr(t.ISRC),
		t.Duration, nullStr(t.MediaID), nullStr(t.Program), nullStr(t.Presenter), playedAt.UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) InsertPost(ctx context.Context, p models.Post) (int64, error) {
	if p.PostedAt.IsZero() {
		p.PostedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts(platform, remote_id, synthetic, track_id, artist, title, posted_at, content, has_image, deleted)
		 VALUES(?,?,?,?,?,?,?,?,?,0)`,
		p.Platform, p.RemoteID, boolInt(p.Synthetic), nullID(p.TrackID), p.Artist, p.Title,
		p.PostedAt.UnixMilli(), nullStr(p.Content), boolInt(p.HasImage),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) MarkPostDeleted(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE posts SET deleted = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) LastPostTime(ctx context.Context, platform string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT posted_at FROM posts WHERE platform = ? AND deleted = 0 ORDER BY posted_at DESC LIMIT 1`,
		platform,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) ArtistsPostedSince(ctx context.Context, platform string, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT artist FROM posts WHERE platform = ? AND deleted = 0 AND posted_at >= ?`,
		platform, since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artists []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

func (s *sqliteStore) PostsSince(ctx context.Context, platform string, since time.Time) ([]models.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, remote_id, synthetic, COALESCE(track_id, 0), artist, title, posted_at, COALESCE(content, ''), has_image, deleted
		 FROM posts WHERE platform = ? AND deleted = 0 AND posted_at >= ? ORDER BY posted_at ASC`,
		platform, since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		var p models.Post
		var synthetic, hasImage, deleted int
		var postedMS int64
		if err := rows.Scan(&p.ID, &p.Platform, &p.RemoteID, &synthetic, &p.TrackID, &p.Artist, &p.Title, &postedMS, &p.Content, &hasImage, &deleted); err != nil {
			return nil, err
		}
		p.Synthetic = synthetic != 0
		p.HasImage = hasImage != 0
		p.Deleted = deleted != 0
		p.PostedAt = time.UnixMilli(postedMS)
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *sqliteStore) InsertEngagement(ctx context.Context, e models.Engagement) error {
	if e.CheckedAt.IsZero() {
		e.CheckedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engagement(post_id, checked_at, likes, shares, comments, clicks) VALUES(?,?,?,?,?,?)`,
		e.PostID, e.CheckedAt.UnixMilli(), e.Likes, e.Shares, e.Comments, e.Clicks,
	)
	return err
}

func (s *sqliteStore) LatestEngagements(ctx context.Context, postID int64, limit int) ([]models.Engagement, error) {
	if limit <= 0 {
		limit = 2
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, post_id, checked_at, likes, shares, comments, clicks
		 FROM engagement WHERE post_id = ? ORDER BY checked_at DESC, id DESC LIMIT ?`,
		postID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Engagement
	for rows.Next() {
		var e models.Engagement
		var ms int64
		if err := rows.Scan(&e.ID, &e.PostID, &ms, &e.Likes, &e.Shares, &e.Comments, &e.Clicks); err != nil {
			return nil, err
		}
		e.CheckedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) InsertToken(ctx context.Context, t models.Token) (int64, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	var meta any
	if len(t.Metadata) > 0 {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return 0, err
		}
		meta = string(b)
	}
	var expires any
	if t.Expires() {
		expires = t.ExpiresAt.UnixMilli()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens(platform, access_token, created_at, expires_at, metadata) VALUES(?,?,?,?,?)`,
		t.Platform, t.AccessToken, t.CreatedAt.UnixMilli(), expires, meta,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) CurrentToken(ctx context.Context, platform string) (models.Token, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, platform, access_token, created_at, expires_at, metadata
		 FROM tokens WHERE platform = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		platform,
	)
	t, err := scanToken(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Token{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) TokenHistory(ctx context.Context, platform string, limit int) ([]models.Token, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, access_token, created_at, expires_at, metadata
		 FROM tokens WHERE platform = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		platform, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Token
	for rows.Next() {
		t, err := scanToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanToken(scan func(...any) error) (models.Token, error) {
	var t models.Token
	var createdMS int64
	var expiresMS sql.NullInt64
	var meta sql.NullString
	if err := scan(&t.ID, &t.Platform, &t.AccessToken, &createdMS, &expiresMS, &meta); err != nil {
		return models.Token{}, err
	}
	t.CreatedAt = time.UnixMilli(createdMS)
	if expiresMS.Valid {
		t.ExpiresAt = time.UnixMilli(expiresMS.Int64)
	}
	if meta.Valid && meta.String != "" {
		_ = json.Unmarshal([]byte(meta.String), &t.Metadata)
	}
	return t, nil
}

func (s *sqliteStore) InsertFailure(ctx context.Context, f models.PostFailure) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO post_failures(platform, artist, title, class, err, failed_at) VALUES(?,?,?,?,?,?)`,
		f.Platform, nullStr(f.Artist), nullStr(f.Title), f.Class, nullStr(f.Error), f.FailedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) PlatformStats(ctx context.Context, platform string, since time.Time) (PlatformStats, error) {
	st := PlatformStats{Platform: platform}
	ms := since.UnixMilli()

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE platform = ? AND deleted = 0 AND posted_at > ?`,
		platform, ms,
	).Scan(&st.Posts)
	if err != nil {
		return st, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM post_failures WHERE platform = ? AND failed_at > ?`,
		platform, ms,
	).Scan(&st.Failures)
	if err != nil {
		return st, err
	}

	// Only the latest snapshot per post counts, otherwise repeated polling
	// would inflate the totals.
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(e.likes),0), COALESCE(SUM(e.shares),0), COALESCE(SUM(e.comments),0), COALESCE(SUM(e.clicks),0),
		        COALESCE(AVG(e.likes),0), COALESCE(AVG(e.shares),0), COALESCE(AVG(e.comments),0)
		 FROM posts p
		 JOIN engagement e ON e.id = (
		     SELECT id FROM engagement WHERE post_id = p.id ORDER BY checked_at DESC, id DESC LIMIT 1
		 )
		 WHERE p.platform = ? AND p.deleted = 0 AND p.posted_at > ?`,
		platform, ms,
	).Scan(&st.Likes, &st.Shares, &st.Comments, &st.Clicks, &st.AvgLikes, &st.AvgShares, &st.AvgComments)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return st, err
	}
	return st, nil
}

func (s *sqliteStore) TopTracks(ctx context.Context, since time.Time, limit int) ([]TrackStats, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.artist, p.title, COALESCE(pl.album, ''),
		        COUNT(DISTINCT p.id),
		        COALESCE(SUM(e.likes),0), COALESCE(SUM(e.shares),0), COALESCE(SUM(e.comments),0)
		 FROM posts p
		 LEFT JOIN playouts pl ON pl.id = p.track_id
		 JOIN engagement e ON e.id = (
		     SELECT id FROM engagement WHERE post_id = p.id ORDER BY checked_at DESC, id DESC LIMIT 1
		 )
		 WHERE p.deleted = 0 AND p.posted_at > ?
		 GROUP BY p.artist, p.title
		 ORDER BY (SUM(e.likes) + SUM(e.shares) * 2 + SUM(e.comments) * 3) DESC
		 LIMIT ?`,
		since.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackStats
	for rows.Next() {
		var ts TrackStats
		if err := rows.Scan(&ts.Artist, &ts.Title, &ts.Album, &ts.Posts, &ts.Likes, &ts.Shares, &ts.Comments); err != nil {
			return nil, err
		}
		ts.Score = ts.Likes + 2*ts.Shares + 3*ts.Comments
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ms := cutoff.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM engagement WHERE post_id IN (SELECT id FROM posts WHERE posted_at < ?)`, ms,
	); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE posted_at < ?`, ms)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM post_failures WHERE failed_at < ?`, ms); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM playouts WHERE played_at < ? AND id NOT IN (SELECT track_id FROM posts WHERE track_id IS NOT NULL)`, ms,
	); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("pruned expired analytics rows", logx.Int64("posts", n), logx.Time("cutoff", cutoff))
	}
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

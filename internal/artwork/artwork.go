// Package artwork publishes track artwork under stable hashed names so web
// clients and social posts can reference images without racing the playout
// system's incoming file drops.
package artwork

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	logx "myrcat/pkg/logx"
)

type Config struct {
	Enabled    bool
	PublishDir string

	// Keep bounds how many hashed files survive Cleanup. 0 means default.
	Keep int
}

type Manager struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 100
	}
	return &Manager{cfg: cfg, log: log}
}

// Publish copies srcPath into the publish directory under a hash of
// artist+title and returns the published path. A missing source or
// disabled manager returns "" without error: absence of artwork never
// fails a post.
func (m *Manager) Publish(srcPath, artist, title string) (string, error) {
	if !m.cfg.Enabled || strings.TrimSpace(srcPath) == "" {
		return "", nil
	}
	if _, err := os.Stat(srcPath); err != nil {
		m.log.Debug("artwork missing; posting without image",
			logx.String("path", srcPath), logx.Err(err))
		return "", nil
	}
	if err := os.MkdirAll(m.cfg.PublishDir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(m.cfg.PublishDir, hashName(artist, title)+filepath.Ext(srcPath))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil // already published for this track
	}

	if err := copyFile(srcPath, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// Cleanup removes the oldest published files beyond the keep bound.
func (m *Manager) Cleanup() error {
	if !m.cfg.Enabled {
		return nil
	}
	entries, err := os.ReadDir(m.cfg.PublishDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type aged struct {
		name string
		mod  int64
	}
	var files []aged
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{name: e.Name(), mod: info.ModTime().UnixMilli()})
	}
	if len(files) <= m.cfg.Keep {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod < files[j].mod })
	for _, f := range files[:len(files)-m.cfg.Keep] {
		if err := os.Remove(filepath.Join(m.cfg.PublishDir, f.name)); err != nil {
			m.log.Warn("artwork cleanup failed", logx.String("file", f.name), logx.Err(err))
		}
	}
	return nil
}

func hashName(artist, title string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(artist) + "|" + strings.ToLower(title)))
	return hex.EncodeToString(sum[:8])
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

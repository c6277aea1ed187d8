// Package ingest accepts playout events from the automation system: one
// JSON object per line over a plain TCP connection.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"myrcat/internal/models"
	logx "myrcat/pkg/logx"
)

// Handler receives each valid track event. It is called synchronously per
// connection; handlers that publish should return quickly and do the slow
// work themselves.
type Handler func(ctx context.Context, track models.Track)

type Config struct {
	ListenAddr string

	// ReadTimeout bounds how long a connection may sit idle between lines.
	// Default 5 minutes; the playout system reconnects per track anyway.
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	return c
}

// Server is the playout listener. One goroutine per connection; malformed
// lines are logged and dropped without closing the connection.
type Server struct {
	cfg     Config
	handler Handler
	log     logx.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func New(cfg Config, handler Handler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg.withDefaults(), handler: handler, log: log}
}

// Start binds the listener and serves until ctx is cancelled or Stop is
// called. Blocks; run it in its own goroutine.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.log.Info("playout listener started", logx.String("addr", s.cfg.ListenAddr))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("accept failed", logx.Err(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// Addr returns the bound listen address once Start has bound it, "" before.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop closes the listener; in-flight connections drain via Start's wait.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	log := s.log.With(logx.String("remote", remote))
	log.Debug("playout connection opened")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Debug("playout connection read ended", logx.Err(err))
			}
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var track models.Track
		if err := json.Unmarshal([]byte(line), &track); err != nil {
			log.Warn("malformed playout line dropped", logx.Err(err))
			continue
		}
		if !track.Valid() {
			log.Warn("playout event missing artist or title; dropped",
				logx.String("artist", track.Artist), logx.String("title", track.Title))
			continue
		}

		log.Debug("playout event received",
			logx.String("artist", track.Artist), logx.String("title", track.Title))
		s.handler(ctx, track)
	}
}

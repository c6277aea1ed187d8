package listenbrainz

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"myrcat/internal/models"
	"myrcat/internal/netexec"
	"myrcat/internal/social"
)

func testTrack() models.Track {
	return models.Track{
		Artist:   "The Kinks",
		Title:    "Waterloo Sunset",
		Album:    "Something Else",
		Duration: 216,
	}
}

func TestPublishSubmitsListen(t *testing.T) {
	t.Parallel()
	var got listenPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/1/submit-listens" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Token tok" {
			t.Errorf("authorization = %q", auth)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Errorf("body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Token: "tok", Root: srv.URL})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) }

	res, err := c.Publish(context.Background(), social.PublishRequest{Track: testTrack()})
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if !res.Synthetic || res.RemoteID != "listenbrainz_20260801120000" {
		t.Fatalf("result = %+v", res)
	}

	if got.ListenType != "single" || len(got.Payload) != 1 {
		t.Fatalf("payload = %+v", got)
	}
	meta := got.Payload[0].Metadata
	if meta.ArtistName != "The Kinks" || meta.TrackName != "Waterloo Sunset" {
		t.Fatalf("metadata = %+v", meta)
	}
	if meta.Additional == nil || meta.Additional.DurationMS != 216000 || meta.Additional.Submitter != "myrcat" {
		t.Fatalf("additional_info = %+v", meta.Additional)
	}
}

func TestPublishMapsErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{
			name:   "unauthorized is a credential failure",
			status: http.StatusUnauthorized,
			check: func(err error) bool {
				var ce *netexec.CredentialError
				return errors.As(err, &ce) && ce.Platform == "listenbrainz"
			},
		},
		{
			name:   "server error is retryable",
			status: http.StatusServiceUnavailable,
			check:  func(err error) bool { return netexec.Classify(err) == netexec.ClassTransient },
		},
		{
			name:   "bad request is permanent",
			status: http.StatusBadRequest,
			check:  func(err error) bool { return netexec.IsPermanent(err) },
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			c, err := New(Config{Token: "tok", Root: srv.URL})
			if err != nil {
				t.Fatalf("New error: %v", err)
			}
			_, err = c.Publish(context.Background(), social.PublishRequest{Track: testTrack()})
			if err == nil || !tt.check(err) {
				t.Fatalf("status %d mapped to %v", tt.status, err)
			}
		})
	}
}

func TestNewTrimsRootAndRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Fatal("missing token should fail")
	}
	c, err := New(Config{Token: "tok", Root: "https://lb.example.org/"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if strings.HasSuffix(c.root, "/") {
		t.Fatalf("root not trimmed: %q", c.root)
	}
	if c.DedupSensitive() {
		t.Fatal("listen submission must be exempt from artist dedup")
	}
}

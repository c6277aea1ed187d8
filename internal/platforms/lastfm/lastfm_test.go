package lastfm

import (
	"testing"
)

func TestSignMatchesKnownSignature(t *testing.T) {
	t.Parallel()
	c := &Client{cfg: Config{APISecret: "secret"}}

	// Keys sorted (api_key, artist, method), values concatenated, secret
	// appended, md5 hex.
	got := c.sign(map[string]string{
		"method":  "track.scrobble",
		"artist":  "Cher",
		"api_key": "abc",
	})
	// md5("api_keyabcartistChermethodtrack.scrobblesecret")
	want := "ebfdf3130efc61ae0d4951e05302ca50"
	if got != want {
		t.Fatalf("sign = %s, want %s", got, want)
	}
}

func TestSignExcludesValueOrderChanges(t *testing.T) {
	t.Parallel()
	c := &Client{cfg: Config{APISecret: "s"}}
	a := c.sign(map[string]string{"b": "2", "a": "1"})
	b := c.sign(map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Fatal("signature must be independent of map iteration order")
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{APIKey: "k", APISecret: "s"}); err == nil {
		t.Fatal("missing session_key should fail")
	}
	if _, err := New(Config{APIKey: "k", APISecret: "s", SessionKey: "sk"}); err != nil {
		t.Fatalf("New error: %v", err)
	}
}

func TestDedupExempt(t *testing.T) {
	t.Parallel()
	c, err := New(Config{APIKey: "k", APISecret: "s", SessionKey: "sk"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if c.DedupSensitive() {
		t.Fatal("scrobbling must be exempt from artist dedup")
	}
	if c.Name() != "lastfm" {
		t.Fatalf("Name = %s", c.Name())
	}
}

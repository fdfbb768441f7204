package upstream

import (
	"net/http"
	"strings"
	"sync"

	"github.com/elgs/gostrgen"
	"github.com/icholy/digest"
	"github.com/juju/errors"
)

// Session is the HTTP digest state for one camera. All concurrent requests
// to the same camera share it; the nonce count is only touched under mu and
// no network I/O happens while mu is held.
type Session struct {
	mu    sync.Mutex
	chal  *digest.Challenge
	count int
}

// Sessions is the per-camera session table.
type Sessions struct {
	m sync.Map // camera id -> *Session
}

// Get returns the session for a camera, creating it on first use.
func (s *Sessions) Get(cameraID string) *Session {
	if v, ok := s.m.Load(cameraID); ok {
		return v.(*Session)
	}
	v, _ := s.m.LoadOrStore(cameraID, &Session{})
	return v.(*Session)
}

// Warm reports whether the session holds a challenge.
func (s *Session) Warm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chal != nil
}

// authorize returns the Authorization header for the next request, or ""
// when no challenge has been received yet.
func (s *Session) authorize(method, uri, username, password string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chal == nil {
		return "", nil
	}

	s.count++
	cnonce, err := gostrgen.RandGen(16, gostrgen.LowerDigit, "", "")
	if err != nil {
		return "", errors.Annotate(err, "generating cnonce")
	}
	cred, err := digest.Digest(s.chal, digest.Options{
		Method:   method,
		URI:      uri,
		Count:    s.count,
		Username: username,
		Password: password,
		Cnonce:   cnonce,
	})
	if err != nil {
		return "", errors.Annotate(err, "computing digest response")
	}
	return cred.String(), nil
}

// challenge replaces the stored challenge and restarts the nonce count.
func (s *Session) challenge(c *digest.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chal = c
	s.count = 0
}

// reset forgets the stored challenge so that the next request starts cold.
func (s *Session) reset() {
	s.challenge(nil)
}

// findChallenge returns the first Digest challenge in the response headers.
func findChallenge(h http.Header) *digest.Challenge {
	for _, v := range h.Values("WWW-Authenticate") {
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "digest") {
			continue
		}
		if c, err := digest.ParseChallenge(v); err == nil {
			return c
		}
	}
	return nil
}

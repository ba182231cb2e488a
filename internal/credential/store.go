package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrAuthUnavailable wraps login failures: the collaborator could not
// produce a usable credential.
var ErrAuthUnavailable = errors.New("login unavailable")

// Authenticator produces a fresh credential. The implementation (re-reading
// a browser-captured cookie file, driving an external helper) is outside the
// scheduling core.
type Authenticator interface {
	Login(ctx context.Context) (Credential, error)
}

// Store holds the single active credential shared by all running tasks.
// Reads are cheap; concurrent Refresh calls collapse into one Login so a
// burst of tasks hitting an expired session re-logs in exactly once.
type Store struct {
	auth Authenticator
	log  *zap.SugaredLogger

	mu  sync.RWMutex
	cur Credential

	sf singleflight.Group
}

func NewStore(auth Authenticator, log *zap.SugaredLogger) *Store {
	return &Store{auth: auth, log: log}
}

// Current returns the active credential, if any.
func (s *Store) Current() (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cur.Empty() {
		return Credential{}, false
	}
	return s.cur, true
}

// Set replaces the active credential. The previous one stays usable for
// attempts already in flight; they will surface auth_expired on their own.
func (s *Store) Set(c Credential) {
	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
}

// Invalidate drops the active credential if it is still the given stale one.
// A credential refreshed in the meantime is left alone.
func (s *Store) Invalidate(stale Credential) {
	s.mu.Lock()
	if s.cur.Cookies == stale.Cookies {
		s.cur = Credential{}
	}
	s.mu.Unlock()
}

// Refresh obtains a new credential via the authenticator and installs it.
// Callers arriving while a refresh is in flight share its result instead of
// issuing duplicate logins. On failure the prior credential is left as-is.
func (s *Store) Refresh(ctx context.Context) (Credential, error) {
	v, err, shared := s.sf.Do("login", func() (any, error) {
		c, err := s.auth.Login(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, err)
		}
		if c.Empty() {
			return nil, fmt.Errorf("%w: empty credential", ErrAuthUnavailable)
		}
		s.Set(c)
		return c, nil
	})
	if err != nil {
		return Credential{}, err
	}
	c := v.(Credential)
	if shared {
		s.log.Debugw("credential refresh shared with concurrent caller",
			"expires_at", c.ExpiresAt.Format(time.RFC3339))
	}
	return c, nil
}

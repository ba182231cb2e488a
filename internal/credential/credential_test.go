package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/crypto"
)

// jwtCookie builds a syntactically valid, unsigned portal session cookie
// whose payload carries the given exp claim.
func jwtCookie(exp time.Time) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":"student","exp":%d}`, exp.Unix())))
	return "JWTUserToken=" + header + "." + payload + ".sig"
}

func TestExpiryFromCookies(t *testing.T) {
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	cookies := "ASP.NET_SessionId=abc123; " + jwtCookie(exp)

	got, err := ExpiryFromCookies(cookies)
	require.NoError(t, err)
	require.True(t, got.Equal(exp))
}

func TestExpiryFromCookiesMissingToken(t *testing.T) {
	_, err := ExpiryFromCookies("ASP.NET_SessionId=abc123")
	require.Error(t, err)
}

func TestExpiryFromCookiesNotAJWT(t *testing.T) {
	_, err := ExpiryFromCookies("JWTUserToken=justanopaqueblob")
	require.Error(t, err)
}

func TestExpiredTreatsZeroAsUnknown(t *testing.T) {
	now := time.Now()
	require.False(t, Credential{Cookies: "x"}.Expired(now))
	require.False(t, Credential{Cookies: "x", ExpiresAt: now.Add(time.Minute)}.Expired(now))
	require.True(t, Credential{Cookies: "x", ExpiresAt: now.Add(-time.Minute)}.Expired(now))
}

func TestRefreshCollapsesConcurrentLogins(t *testing.T) {
	var logins int32
	auth := loginFunc(func(context.Context) (Credential, error) {
		atomic.AddInt32(&logins, 1)
		time.Sleep(50 * time.Millisecond)
		return Credential{Cookies: "JWTUserToken=fresh", AcquiredAt: time.Now()}, nil
	})
	s := NewStore(auth, zap.NewNop().Sugar())

	const callers = 10
	creds := make([]Credential, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creds[i], errs[i] = s.Refresh(context.Background())
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&logins),
		"a burst of refreshes must collapse into one login")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "JWTUserToken=fresh", creds[i].Cookies)
	}
	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, "JWTUserToken=fresh", cur.Cookies)
}

func TestRefreshFailureKeepsPriorCredential(t *testing.T) {
	auth := loginFunc(func(context.Context) (Credential, error) {
		return Credential{}, errors.New("file missing")
	})
	s := NewStore(auth, zap.NewNop().Sugar())
	prior := Credential{Cookies: "JWTUserToken=prior", AcquiredAt: time.Now()}
	s.Set(prior)

	_, err := s.Refresh(context.Background())
	require.ErrorIs(t, err, ErrAuthUnavailable)

	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, prior.Cookies, cur.Cookies)
}

func TestInvalidateOnlyDropsTheStaleCredential(t *testing.T) {
	s := NewStore(nil, zap.NewNop().Sugar())
	stale := Credential{Cookies: "JWTUserToken=stale"}
	s.Set(stale)

	s.Invalidate(stale)
	_, ok := s.Current()
	require.False(t, ok)

	// a credential refreshed in the meantime survives a late invalidation
	fresh := Credential{Cookies: "JWTUserToken=fresh"}
	s.Set(fresh)
	s.Invalidate(stale)
	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, fresh.Cookies, cur.Cookies)
}

type loginFunc func(ctx context.Context) (Credential, error)

func (f loginFunc) Login(ctx context.Context) (Credential, error) { return f(ctx) }

func newAEAD(t *testing.T) *crypto.AEAD {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	a, err := crypto.New(key)
	require.NoError(t, err)
	return a
}

func TestFileSourceSealedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	exp := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	cookies := "ASP.NET_SessionId=abc123; " + jwtCookie(exp)
	src := &FileSource{Path: path, AEAD: newAEAD(t), Log: zap.NewNop().Sugar()}

	acquired := time.Now().Truncate(time.Second)
	require.NoError(t, src.Save(cookies, acquired))

	// the cookie blob must not appear in the clear on disk
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "JWTUserToken")

	cred, err := src.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, cookies, cred.Cookies)
	require.True(t, cred.ExpiresAt.Equal(exp))
	require.True(t, cred.AcquiredAt.Equal(acquired))
}

func TestFileSourceClearRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	exp := time.Now().Add(time.Hour)
	cookies := jwtCookie(exp)
	src := &FileSource{Path: path, Log: zap.NewNop().Sugar()}

	require.NoError(t, src.Save(cookies, time.Now()))
	cred, err := src.Login(context.Background())
	require.NoError(t, err)
	require.Equal(t, cookies, cred.Cookies)
}

func TestFileSourceRejectsExpiredCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	cookies := jwtCookie(time.Now().Add(-time.Hour))
	src := &FileSource{Path: path, Log: zap.NewNop().Sugar()}

	require.NoError(t, src.Save(cookies, time.Now().Add(-2*time.Hour)))
	_, err := src.Login(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "expired")
}

func TestFileSourceSealedNeedsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	sealer := &FileSource{Path: path, AEAD: newAEAD(t), Log: zap.NewNop().Sugar()}
	require.NoError(t, sealer.Save(jwtCookie(time.Now().Add(time.Hour)), time.Now()))

	reader := &FileSource{Path: path, Log: zap.NewNop().Sugar()}
	_, err := reader.Login(context.Background())
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "sealed"))
}

func TestFileSourceMissingFile(t *testing.T) {
	src := &FileSource{Path: filepath.Join(t.TempDir(), "nope.json"), Log: zap.NewNop().Sugar()}
	_, err := src.Login(context.Background())
	require.Error(t, err)
}

package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/crypto"
)

// FileSource is the default Authenticator: it reads the credentials file
// written by `courtsched login` after the operator signs in through the
// portal in a browser. The tool never drives the login itself; "refresh"
// here means picking up a newer blob the operator has dropped in place.
type FileSource struct {
	Path string
	AEAD *crypto.AEAD // nil means the file is stored in the clear
	Log  *zap.SugaredLogger
}

type fileCredential struct {
	Cookies    string    `json:"cookies"`
	Sealed     bool      `json:"sealed"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func (f *FileSource) Login(ctx context.Context) (Credential, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return Credential{}, fmt.Errorf("read credentials file: %w", err)
	}
	var fc fileCredential
	if err := json.Unmarshal(b, &fc); err != nil {
		return Credential{}, fmt.Errorf("parse credentials file: %w", err)
	}

	cookies := fc.Cookies
	if fc.Sealed {
		if f.AEAD == nil {
			return Credential{}, fmt.Errorf("credentials file is sealed but no credentials.key configured")
		}
		cookies, err = f.AEAD.DecryptString(cookies)
		if err != nil {
			return Credential{}, fmt.Errorf("unseal credentials: %w", err)
		}
	}
	if cookies == "" {
		return Credential{}, fmt.Errorf("credentials file has no cookies")
	}

	cred := Credential{Cookies: cookies, AcquiredAt: fc.AcquiredAt}
	if exp, err := ExpiryFromCookies(cookies); err != nil {
		f.Log.Debugw("no expiry hint in credential", "err", err)
	} else {
		cred.ExpiresAt = exp
	}
	if cred.Expired(time.Now()) {
		return Credential{}, fmt.Errorf("stored credential expired at %s, log in again", cred.ExpiresAt.Format(time.RFC3339))
	}
	return cred, nil
}

// Save seals (when a key is configured) and writes the cookie blob so that a
// later Login can pick it up.
func (f *FileSource) Save(cookies string, acquiredAt time.Time) error {
	fc := fileCredential{Cookies: cookies, AcquiredAt: acquiredAt}
	if f.AEAD != nil {
		sealed, err := f.AEAD.EncryptToString(cookies)
		if err != nil {
			return fmt.Errorf("seal credentials: %w", err)
		}
		fc.Cookies = sealed
		fc.Sealed = true
	}
	b, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, b, 0o600)
}

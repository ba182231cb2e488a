package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	a, err := New(key)
	require.NoError(t, err)

	const secret = "JWTUserToken=eyJhbGciOi.header.sig; ASP.NET_SessionId=abc"
	sealed, err := a.EncryptToString(secret)
	require.NoError(t, err)
	require.NotContains(t, sealed, "JWTUserToken")

	got, err := a.DecryptString(sealed)
	require.NoError(t, err)
	require.Equal(t, secret, got)
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	a, err := New(key)
	require.NoError(t, err)

	sealed, err := a.EncryptToString("secret")
	require.NoError(t, err)

	_, err = a.DecryptString(sealed[:len(sealed)-2])
	require.Error(t, err)

	_, err = a.DecryptString("c2hvcnQ")
	require.Error(t, err)
}

func TestRejectsBadKeySize(t *testing.T) {
	_, err := New(make([]byte, 15))
	require.Error(t, err)
}

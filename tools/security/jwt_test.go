package security

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MissionChat/tools/errs"
)

func TestGenerateAndUserID(t *testing.T) {
	opts := DefaultOptions([]byte("test-secret"))
	tok, exp, err := Generate(opts, "u-42", nil)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), exp, 5*time.Second)

	uid, err := UserID(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "u-42", uid)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	tok, _, err := Generate(DefaultOptions([]byte("a")), "u1", nil)
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("b")), tok)
	require.Error(t, err)
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))
}

func TestVerifyRejectsExpired(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	claims := jwtlib.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(opts.Secret)
	require.NoError(t, err)

	_, err = UserID(opts, tok)
	assert.True(t, errs.IsKind(err, errs.KindUnauthorized))
}

func TestUserIDFallsBackToLegacyClaim(t *testing.T) {
	opts := DefaultOptions([]byte("s"))
	claims := jwtlib.MapClaims{"userId": "legacy", "exp": time.Now().Add(time.Minute).Unix()}
	tok, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(opts.Secret)
	require.NoError(t, err)

	uid, err := UserID(opts, tok)
	require.NoError(t, err)
	assert.Equal(t, "legacy", uid)
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("s"), Alg: "RS256"}, "u", nil)
	assert.Error(t, err)
}

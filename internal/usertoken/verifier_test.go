package usertoken

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier(Config{})
	require.Error(t, err)
}

func TestIssueAndVerifySubject(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cret", Issuer: "issuer-a", Audience: "aud-a"})
	require.NoError(t, err)
	token, err := v.Issue(42)
	require.NoError(t, err)
	sub, err := v.VerifySubject(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), sub)

	other, err := NewVerifier(Config{Secret: "other", Issuer: "issuer-a", Audience: "aud-a"})
	require.NoError(t, err)
	_, err = other.VerifySubject(token)
	require.ErrorIs(t, err, ErrInvalidToken, "wrong secret")
}

func TestVerifyRejectsBadClaims(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cret", Issuer: "issuer-a", Audience: "aud-a", Leeway: 5 * time.Second})
	require.NoError(t, err)
	cases := map[string]jwt.RegisteredClaims{
		"expired": {
			Subject: "1", Issuer: "issuer-a", Audience: jwt.ClaimStrings{"aud-a"}, ID: "a",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Minute)),
		},
		"future iat": {
			Subject: "1", Issuer: "issuer-a", Audience: jwt.ClaimStrings{"aud-a"}, ID: "b",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(2 * time.Minute)),
		},
		"wrong audience": {
			Subject: "1", Issuer: "issuer-a", Audience: jwt.ClaimStrings{"aud-b"}, ID: "c",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		"non numeric subject": {
			Subject: "alice", Issuer: "issuer-a", Audience: jwt.ClaimStrings{"aud-a"}, ID: "d",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		"missing jti": {
			Subject: "1", Issuer: "issuer-a", Audience: jwt.ClaimStrings{"aud-a"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("s3cret"))
			require.NoError(t, err)
			_, err = v.VerifySubject(signed)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
	_, err = v.VerifySubject("   ")
	require.ErrorIs(t, err, ErrInvalidToken, "empty token")
}

func TestRevokeMemory(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cret", Revoker: NewMemoryRevoker()})
	require.NoError(t, err)
	token, err := v.Issue(7)
	require.NoError(t, err)
	require.NoError(t, v.Revoke(token))
	_, err = v.VerifySubject(token)
	require.ErrorIs(t, err, ErrTokenRevoked)
	require.NoError(t, v.Revoke("garbage"), "revoking an invalid token is a no-op")
}

func TestRevokeRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	revoker := NewRedisRevoker(mr.Addr(), "")
	defer revoker.Close()

	v, err := NewVerifier(Config{Secret: "s3cret", TTL: time.Minute, Revoker: revoker})
	require.NoError(t, err)
	token, err := v.Issue(9)
	require.NoError(t, err)
	require.NoError(t, v.Revoke(token))
	_, err = v.VerifySubject(token)
	require.ErrorIs(t, err, ErrTokenRevoked)

	mr.FastForward(2 * time.Minute)
	// The revocation key lapses with the token's TTL in Redis.
	require.Empty(t, mr.Keys())
}

func TestMemoryRevokerExpiry(t *testing.T) {
	r := NewMemoryRevoker()
	require.NoError(t, r.Revoke("jti-1", 0))
	revoked, _ := r.IsRevoked("jti-1")
	require.False(t, revoked, "zero ttl must not revoke")

	require.NoError(t, r.Revoke("jti-2", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	revoked, _ = r.IsRevoked("jti-2")
	require.False(t, revoked, "expired revocation lapses")
}

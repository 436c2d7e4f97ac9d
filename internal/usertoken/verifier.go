package usertoken

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "nexus-auth"
	defaultAudience = "nexus-chat"
	defaultLeeway   = 30 * time.Second
	defaultTTL      = 48 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token revoked")
)

// Config configures user access-token signing and verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
	TTL      time.Duration
	Revoker  Revoker
}

// Claims are the verified parts of an access token.
type Claims struct {
	UserID    int64
	ID        string
	ExpiresAt time.Time
}

// Verifier validates HS256 user access tokens and extracts the subject.
// It can also issue tokens for local development and tests.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	ttl      time.Duration
	revoker  Revoker
}

// NewVerifier creates a token verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("token verifier requires secret")
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
		ttl:      ttl,
		revoker:  cfg.Revoker,
	}, nil
}

// Issue signs a token for userID.
func (v *Verifier) Issue(userID int64) (string, error) {
	if userID <= 0 {
		return "", errors.New("user id required")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    v.issuer,
		Audience:  jwt.ClaimStrings{v.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        randomHexID(12),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// VerifySubject validates the token and returns the subject user ID.
func (v *Verifier) VerifySubject(token string) (int64, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// Verify validates the token, including revocation, and returns its claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	claims, err := v.parse(token)
	if err != nil {
		return Claims{}, err
	}
	if v.revoker != nil {
		revoked, err := v.revoker.IsRevoked(claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Revoke marks the token revoked until it would have expired. Tokens that
// fail verification are ignored.
func (v *Verifier) Revoke(token string) error {
	if v.revoker == nil {
		return nil
	}
	claims, err := v.parse(token)
	if err != nil {
		return nil
	}
	return v.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt))
}

// TTL reports the lifetime of issued tokens.
func (v *Verifier) TTL() time.Duration {
	return v.ttl
}

func (v *Verifier) parse(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	rc := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &rc, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil || !parsed.Valid {
		if err == nil {
			err = ErrInvalidToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	subject := strings.TrimSpace(rc.Subject)
	if subject == "" {
		return Claims{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil || userID <= 0 {
		return Claims{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	if strings.TrimSpace(rc.ID) == "" {
		return Claims{}, fmt.Errorf("%w: jti missing", ErrInvalidToken)
	}
	return Claims{UserID: userID, ID: rc.ID, ExpiresAt: rc.ExpiresAt.Time.UTC()}, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

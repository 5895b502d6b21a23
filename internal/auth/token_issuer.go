package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * time.Minute
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// TokenIssuerConfig configures the bearer token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// Claims is the payload carried by sync bearer tokens. Subject is the user id; DeviceID is
// optional and records the device the token was minted for.
type Claims struct {
	DeviceID string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer issues and validates HS256 bearer tokens whose subject is the user id.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer, defaulting the TTL and clock.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	issuer := &TokenIssuer{
		secret:   append([]byte(nil), cfg.SigningSecret...),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		ttl:      cfg.TokenTTL,
		clock:    cfg.Clock,
	}
	if issuer.ttl <= 0 {
		issuer.ttl = defaultTokenTTL
	}
	if issuer.clock == nil {
		issuer.clock = time.Now
	}
	return issuer, nil
}

// IssueToken produces a signed JWT for subject and its lifetime in seconds.
func (i *TokenIssuer) IssueToken(ctx context.Context, subject string) (string, int64, error) {
	return i.IssueDeviceToken(ctx, subject, "")
}

// IssueDeviceToken is IssueToken with the device id embedded as the did claim.
func (i *TokenIssuer) IssueDeviceToken(_ context.Context, subject, deviceID string) (string, int64, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", 0, errMissingSubjectClaim
	}

	issuedAt := i.clock().UTC()
	expiresAt := issuedAt.Add(i.ttl)
	claims := Claims{
		DeviceID: strings.TrimSpace(deviceID),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign token: %w", err)
	}
	return signed, int64(i.ttl / time.Second), nil
}

// ParseToken verifies signature, issuer, audience and expiry and returns the claims.
func (i *TokenIssuer) ParseToken(tokenString string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(token *jwt.Token) (interface{}, error) {
			return i.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return Claims{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Claims{}, errMissingSubjectClaim
	}
	return claims, nil
}

// ValidateToken returns the user id carried by a valid token.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims, err := i.ParseToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/medrun-backend/pkg/config"
)

// clockSkew tolerates small drift between the identity provider and us.
const clockSkew = 30 * time.Second

var (
	signingMethod    = jwt.SigningMethodHS256
	errMissingSecret = errors.New("jwt secret is required")
)

// MintAccessToken signs a token for payload valid for cfg.ExpirationMinutes
// from now. Production tokens come from the identity provider; this backs
// local tooling and tests.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	switch {
	case cfg.Secret == "":
		return "", errMissingSecret
	case cfg.Issuer == "":
		return "", errors.New("jwt issuer is required")
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	}
	if err := checkIdentity(payload.UserID, payload.Role, payload.FacilityID); err != nil {
		return "", err
	}
	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	ttl := time.Duration(cfg.ExpirationMinutes) * time.Minute
	claims := AccessTokenClaims{
		UserID:     payload.UserID,
		Role:       payload.Role,
		FacilityID: payload.FacilityID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

// Verifier checks HS256 access tokens from one issuer. Build it once and
// share it; it is safe for concurrent use.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

func NewVerifier(cfg config.JWTConfig) *Verifier {
	return &Verifier{
		key: []byte(cfg.Secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingMethod.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// Verify returns the claims of a valid token. Identity rules are enforced by
// AccessTokenClaims.Validate during parsing.
func (v *Verifier) Verify(token string) (*AccessTokenClaims, error) {
	if len(v.key) == 0 {
		return nil, errMissingSecret
	}
	claims := &AccessTokenClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseAccessToken verifies token with a one-off Verifier.
func ParseAccessToken(cfg config.JWTConfig, token string) (*AccessTokenClaims, error) {
	return NewVerifier(cfg).Verify(token)
}

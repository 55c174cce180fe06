package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenRequired is returned when no credential was presented.
	ErrTokenRequired = errors.New("authentication token required")
	// ErrTokenInvalid is returned for any credential that cannot be accepted.
	ErrTokenInvalid = errors.New("invalid authentication token")
)

// Verifier turns a bearer credential into Claims.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// tokenClaims is the JWT payload issued by the restaurant back office.
type tokenClaims struct {
	UserID       string `json:"userId,omitempty"`
	Email        string `json:"email,omitempty"`
	Role         Role   `json:"role"`
	RestaurantID string `json:"restaurantId,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed JWTs. With skipSignature set it only
// decodes the payload, which is what demo deployments historically did.
type JWTVerifier struct {
	secret        []byte
	skipSignature bool
	parser        *jwt.Parser
}

// NewJWTVerifier returns a verifier that checks signatures against secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})),
	}
}

// NewInsecureVerifier returns a verifier that decodes claims without any
// signature or expiry check. Never use it outside demos.
func NewInsecureVerifier() *JWTVerifier {
	return &JWTVerifier{
		skipSignature: true,
		parser:        jwt.NewParser(),
	}
}

// compile-time check to ensure JWTVerifier implements Verifier.
var _ Verifier = (*JWTVerifier)(nil)

// Verify decodes token and validates the resulting claims.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrTokenRequired
	}

	var tc tokenClaims
	if v.skipSignature {
		if _, _, err := v.parser.ParseUnverified(token, &tc); err != nil {
			return Claims{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
	} else {
		parsed, err := v.parser.ParseWithClaims(token, &tc, func(*jwt.Token) (any, error) {
			return v.secret, nil
		})
		if err != nil {
			return Claims{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
		}
		if !parsed.Valid {
			return Claims{}, ErrTokenInvalid
		}
	}

	return tc.toClaims()
}

func (tc *tokenClaims) toClaims() (Claims, error) {
	c := Claims{
		UserID:   tc.UserID,
		Email:    tc.Email,
		Role:     tc.Role,
		TenantID: tc.RestaurantID,
	}
	if c.UserID == "" {
		c.UserID = tc.Subject
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}

	if c.UserID == "" {
		return Claims{}, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	}
	if !ValidRoles[c.Role] {
		return Claims{}, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, c.Role)
	}
	if c.Role != RoleAdmin && c.TenantID == "" {
		return Claims{}, fmt.Errorf("%w: role %s requires a restaurant", ErrTokenInvalid, c.Role)
	}
	return c, nil
}

// Issue signs claims with secret using HS256. The back office owns token
// issuance; this exists for tooling and tests. A zero ttl omits exp.
func Issue(secret string, c Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		UserID:       c.UserID,
		Email:        c.Email,
		Role:         c.Role,
		RestaurantID: c.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  c.UserID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		tc.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString([]byte(secret))
}

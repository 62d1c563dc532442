package token

import (
	"time"

	"osusu-auth/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig holds app token generation configuration.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// appClaims represents the JWT claims carried by the app token the mobile
// client presents to the other Osusu backends.
type appClaims struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Sid   string `json:"sid"`
	jwt.RegisteredClaims
}

// JWTIssuer generates signed app tokens from the authenticated state.
// Implements domain.TokenIssuer.
type JWTIssuer struct {
	cfg JWTConfig
}

// NewJWTIssuer creates a new JWT issuer.
func NewJWTIssuer(cfg JWTConfig) *JWTIssuer {
	return &JWTIssuer{cfg: cfg}
}

// IssueAppToken generates a signed short-lived token for the given account
// and session.
func (j *JWTIssuer) IssueAppToken(account *domain.Account, sessionID string) (string, error) {
	now := time.Now()
	claims := appClaims{
		Email: account.Email,
		Name:  account.Name,
		Sid:   sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.cfg.Issuer,
			Audience:  jwt.ClaimStrings{j.cfg.Audience},
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.cfg.TTL)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(j.cfg.Secret))
}

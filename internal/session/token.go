package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"estatedesk.io/dashboard/internal/domain"
)

// Claims are carried by the dashboard session token.
type Claims struct {
	SessionID string      `json:"sid"`
	UserID    int64       `json:"uid"`
	Username  string      `json:"username"`
	Role      domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenConfig holds session token signing configuration.
type TokenConfig struct {
	SigningKey []byte
	// VerificationKeys are additional keys accepted on validation, so the
	// signing key can be rotated without ending live sessions.
	VerificationKeys [][]byte
	Issuer           string
	ExpiresIn        time.Duration
}

// GenerateToken signs a session token for s valid until expiresAt.
func (cfg TokenConfig) GenerateToken(s *Session, expiresAt time.Time) (string, error) {
	if len(cfg.SigningKey) == 0 {
		return "", errors.New("session token signing key is empty")
	}
	now := time.Now()
	jti, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	claims := Claims{
		SessionID: s.ID,
		UserID:    s.User.ID,
		Username:  s.User.Username,
		Role:      s.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti.String(),
			Issuer:    cfg.Issuer,
			Subject:   fmt.Sprintf("%d", s.User.ID),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies signature, issuer and expiry and returns the claims.
// Every configured key is tried in turn.
func (cfg TokenConfig) ValidateToken(tokenString string) (*Claims, error) {
	keys := append([][]byte{cfg.SigningKey}, cfg.VerificationKeys...)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	var lastErr error
	for _, key := range keys {
		if len(key) == 0 {
			continue
		}
		claims := &Claims{}
		_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return key, nil
		}, opts...)
		if err == nil {
			if claims.SessionID == "" {
				return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
			}
			return claims, nil
		}
		lastErr = err
		if !errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			break
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no verification key configured")
	}
	if errors.Is(lastErr, jwt.ErrTokenExpired) {
		return nil, fmt.Errorf("%w: %w", ErrExpired, lastErr)
	}
	return nil, fmt.Errorf("%w: %w", ErrInvalidToken, lastErr)
}

// crmTokenExpiry reads the exp claim of a CRM-issued JWT without verifying
// it; the CRM stays the authority on its own tokens. Zero when absent or
// unparsable.
func crmTokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

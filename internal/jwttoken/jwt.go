// Package jwttoken issues and validates tenant access tokens.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
)

// Claims are the JWT claims carried by tenant access tokens.
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// JWTService handles JWT creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
}

func NewJWTService(signingKey string, issuer string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateTenantToken mints an HS256 token for a tenant integration.
func (s *JWTService) GenerateTenantToken(tenantID id.TenantID, expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TenantID: tenantID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidateToken checks signature and expiry and returns the tenant id.
func (s *JWTService) ValidateToken(tokenString string) (id.TenantID, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.TenantID{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return id.TenantID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return id.TenantID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return id.TenantID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil {
		return id.TenantID{}, dErrors.New(dErrors.CodeUnauthorized, "invalid tenant claim")
	}
	return tenantID, nil
}

// Package jwttoken validates the bearer tokens issued by the platform auth
// service. The integrity engine never issues tokens to clients; GenerateToken
// exists for tests and local tooling.
package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
	"nightwatch/pkg/platform/middleware/auth"
)

// Claims are the token claims the engine cares about. The auth service adds
// more; unknown claims are ignored.
type Claims struct {
	TenantID string `json:"tenant_id"`
	StaffID  string `json:"staff_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService validates HS256 tokens against a shared signing key.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
}

func NewJWTService(signingKey string, issuer string, audience string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
	}
}

// GenerateToken mints a token carrying the given identity.
func (s *JWTService) GenerateToken(
	tenantID id.TenantID,
	staffID id.StaffID,
	role id.Role,
	expiresIn time.Duration) (string, error) {
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		TenantID: tenantID.String(),
		StaffID:  staffID.String(),
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", err
	}
	return signedToken, nil
}

// ValidateToken checks the signature and expiry and extracts the identity.
func (s *JWTService) ValidateToken(tokenString string) (auth.Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return auth.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return auth.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return auth.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}

	tenantID, err := id.ParseTenantID(claims.TenantID)
	if err != nil || tenantID.IsNil() {
		return auth.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token missing tenant scope")
	}
	staffID, err := id.ParseStaffID(claims.StaffID)
	if err != nil || staffID.IsNil() {
		return auth.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token missing staff identity")
	}
	role := id.Role(claims.Role)
	if !role.IsValid() {
		return auth.Identity{}, dErrors.Newf(dErrors.CodeUnauthorized, "unknown role %q", claims.Role)
	}

	return auth.Identity{TenantID: tenantID, StaffID: staffID, Role: role}, nil
}

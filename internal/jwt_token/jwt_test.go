package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "nightwatch/pkg/domain"
	dErrors "nightwatch/pkg/domain-errors"
)

func TestValidateToken_RoundTrip(t *testing.T) {
	svc := NewJWTService("test-signing-key", "nightwatch", "nightwatch-api")
	tenantID := id.TenantID(uuid.New())
	staffID := id.StaffID(uuid.New())

	token, err := svc.GenerateToken(tenantID, staffID, id.RoleManager, time.Hour)
	require.NoError(t, err)

	identity, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID, identity.TenantID)
	assert.Equal(t, staffID, identity.StaffID)
	assert.Equal(t, id.RoleManager, identity.Role)
}

func TestValidateToken_Expired(t *testing.T) {
	svc := NewJWTService("test-signing-key", "nightwatch", "nightwatch-api")

	token, err := svc.GenerateToken(id.TenantID(uuid.New()), id.StaffID(uuid.New()), id.RoleOwner, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_WrongKey(t *testing.T) {
	issuer := NewJWTService("key-one", "nightwatch", "nightwatch-api")
	verifier := NewJWTService("key-two", "nightwatch", "nightwatch-api")

	token, err := issuer.GenerateToken(id.TenantID(uuid.New()), id.StaffID(uuid.New()), id.RoleManager, time.Hour)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := NewJWTService("test-signing-key", "nightwatch", "nightwatch-api")

	_, err := svc.ValidateToken("not.a.token")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateToken_RejectsSystemRole(t *testing.T) {
	svc := NewJWTService("test-signing-key", "nightwatch", "nightwatch-api")

	// The system role attributes engine-authored ledger entries and must
	// never arrive on a client token.
	token, err := svc.GenerateToken(id.TenantID(uuid.New()), id.StaffID(uuid.New()), id.RoleSystem, time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateToken_MissingTenant(t *testing.T) {
	svc := NewJWTService("test-signing-key", "nightwatch", "nightwatch-api")

	token, err := svc.GenerateToken(id.TenantID{}, id.StaffID(uuid.New()), id.RoleManager, time.Hour)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant")
}

package auth

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierRoundTrip(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)

	tok, err := v.Issue(Identity{UserID: "u-1", Role: RoleStaff}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.UserID)
	assert.True(t, id.IsStaff())
	assert.False(t, id.IsAdmin())
}

func TestVerifierDefaultsRoleToUser(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)
	tok, err := v.Issue(Identity{UserID: "u-2"}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, id.Role)
	assert.False(t, id.IsStaff())
}

func TestVerifierRejects(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)
	other, err := NewVerifier("other")
	require.NoError(t, err)

	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingToken)

	foreign, err := other.Issue(Identity{UserID: "u-1"}, time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Issue(Identity{UserID: "u-1"}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = v.Verify(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewVerifier("  ")
	assert.Error(t, err)
}

func TestIdentityContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "u-9", Role: RoleAdmin})
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.True(t, id.IsAdmin())
}

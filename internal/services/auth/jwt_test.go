package auth

import (
	"context"
	"testing"
	"time"

	"CascadeAdvisor/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret", "cascade-advisor")
	tok, err := v.Issue("u-1", models.RoleAdmin, time.Hour)
	require.NoError(t, err)

	caller, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, models.Caller{UserID: "u-1", Role: models.RoleAdmin}, caller)
}

func TestVerifyRejects(t *testing.T) {
	v := NewJWTVerifier("secret", "cascade-advisor")
	other := NewJWTVerifier("other", "cascade-advisor")
	wrongIssuer := NewJWTVerifier("secret", "someone-else")

	forged, _ := other.Issue("u-1", models.RoleAdmin, time.Hour)
	expired, _ := v.Issue("u-1", models.RoleUser, -time.Minute)
	foreign, _ := wrongIssuer.Issue("u-1", models.RoleUser, time.Hour)
	badRole, _ := v.Issue("u-1", models.Role("root"), time.Hour)

	for name, tok := range map[string]string{
		"garbage":  "not-a-token",
		"forged":   forged,
		"expired":  expired,
		"issuer":   foreign,
		"bad role": badRole,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tok)
			assert.ErrorIs(t, err, models.ErrUnknownToken)
		})
	}
}

func TestVerifyDefaultsToUserRole(t *testing.T) {
	v := NewJWTVerifier("secret", "")
	tok, err := v.Issue("u-2", "", time.Hour)
	require.NoError(t, err)
	caller, err := v.Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, caller.Role)
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/seatwatch/internal/models"
	appErrors "github.com/noah-isme/seatwatch/pkg/errors"
)

func TestTokenServiceIssueAndValidate(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "s3cret", Issuer: "seatwatch", TTL: time.Hour})

	token, expiresAt, err := svc.Issue("ops@example.edu", models.RoleOperator)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleOperator, claims.Role)
	assert.Equal(t, "ops@example.edu", claims.Subject)
}

func TestTokenServiceRejectsForeignAndExpiredTokens(t *testing.T) {
	issuer := NewTokenService(TokenConfig{Secret: "other", Issuer: "seatwatch", TTL: time.Hour})
	token, _, err := issuer.Issue("ops", models.RoleViewer)
	require.NoError(t, err)

	svc := NewTokenService(TokenConfig{Secret: "s3cret", Issuer: "seatwatch", TTL: time.Hour})
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	expired := NewTokenService(TokenConfig{Secret: "s3cret", Issuer: "seatwatch", TTL: time.Minute})
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := expired.Issue("ops", models.RoleOperator)
	require.NoError(t, err)
	_, err = svc.ValidateToken(old)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestTokenServiceIssueValidation(t *testing.T) {
	svc := NewTokenService(TokenConfig{Secret: "s3cret"})
	_, _, err := svc.Issue("", models.RoleOperator)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
	_, _, err = svc.Issue("ops", models.OperatorRole("ROOT"))
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

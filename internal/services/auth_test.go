package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "quiz-session-backend/internal/errors"
	fixtures "quiz-session-backend/internal/testutil"
)

func TestRegisterAndLogin(t *testing.T) {
	svc := NewAuthService(fixtures.NewDB(t), "secret")
	ctx := context.Background()

	registered, err := svc.Register(ctx, "host", "hunter22")
	require.NoError(t, err)
	hostID, err := svc.ValidateToken(registered.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.Host.ID, hostID)
	assert.Equal(t, "host", registered.Host.Username)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), registered.ExpiresAt, time.Minute)

	loggedIn, err := svc.Login(ctx, "host", "hunter22")
	require.NoError(t, err)
	again, err := svc.ValidateToken(loggedIn.Token)
	require.NoError(t, err)
	assert.Equal(t, hostID, again)

	host, err := svc.GetHost(ctx, hostID)
	require.NoError(t, err)
	assert.Equal(t, "host", host.Username)
	var nf qerrors.NotFoundError
	_, err = svc.GetHost(ctx, hostID+100)
	assert.ErrorAs(t, err, &nf)

	var denied qerrors.AccessDeniedError
	_, err = svc.Login(ctx, "host", "wrong-password")
	assert.ErrorAs(t, err, &denied)
	_, err = svc.Login(ctx, "nobody", "hunter22")
	assert.ErrorAs(t, err, &denied)
}

func TestRegisterRejectsTakenAndWeak(t *testing.T) {
	svc := NewAuthService(fixtures.NewDB(t), "secret")
	ctx := context.Background()

	_, err := svc.Register(ctx, "host", "hunter22")
	require.NoError(t, err)

	var validation qerrors.ValidationError
	_, err = svc.Register(ctx, "host", "another1")
	assert.ErrorAs(t, err, &validation)
	_, err = svc.Register(ctx, "other", "123")
	assert.ErrorAs(t, err, &validation)
	_, err = svc.Register(ctx, "  ", "hunter22")
	assert.ErrorAs(t, err, &validation)
}

func TestValidateTokenRejectsForeignAndExpired(t *testing.T) {
	svc := NewAuthService(fixtures.NewDB(t), "secret")
	other := NewAuthService(fixtures.NewDB(t), "other-secret")

	foreign, _, err := other.signToken(7, time.Now())
	require.NoError(t, err)
	_, err = svc.ValidateToken(foreign)
	var denied qerrors.AccessDeniedError
	assert.ErrorAs(t, err, &denied)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, hostClaims{
		HostID: 7,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := expired.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.ErrorAs(t, err, &denied)

	_, err = svc.ValidateToken("not-a-token")
	assert.ErrorAs(t, err, &denied)
}

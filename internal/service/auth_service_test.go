package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/paperdesk/paperdesk-backend/internal/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newAuthTestService(t *testing.T) (*AuthService, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}
	return NewAuthService(cfg, rdb, nil), server
}

func TestPasswordHashRoundtrip(t *testing.T) {
	svc, _ := newAuthTestService(t)

	hash, err := svc.HashPassword("s3cret-pass")
	require.NoError(t, err)

	require.NoError(t, svc.CheckPassword(hash, "s3cret-pass"))
	require.ErrorIs(t, svc.CheckPassword(hash, "wrong-pass"), ErrInvalidCredentials)
}

func TestStudentTokenRegistersSession(t *testing.T) {
	svc, _ := newAuthTestService(t)
	ctx := context.Background()
	studentID := uuid.New()

	token, err := svc.generateStudentToken(ctx, studentID)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, TokenTypeStudent, claims.TokenType)
	require.Equal(t, studentID, claims.UserID)

	require.NoError(t, svc.ValidateStudentSession(ctx, studentID, claims.ID))
}

func TestNewerLoginInvalidatesOlderSession(t *testing.T) {
	svc, _ := newAuthTestService(t)
	ctx := context.Background()
	studentID := uuid.New()

	first, err := svc.generateStudentToken(ctx, studentID)
	require.NoError(t, err)
	firstClaims, err := svc.ValidateToken(first)
	require.NoError(t, err)

	// Logging in from a second device replaces the registered session.
	second, err := svc.generateStudentToken(ctx, studentID)
	require.NoError(t, err)
	secondClaims, err := svc.ValidateToken(second)
	require.NoError(t, err)

	require.ErrorIs(t, svc.ValidateStudentSession(ctx, studentID, firstClaims.ID), ErrSessionInvalidated)
	require.NoError(t, svc.ValidateStudentSession(ctx, studentID, secondClaims.ID))
}

func TestLogoutClearsSession(t *testing.T) {
	svc, _ := newAuthTestService(t)
	ctx := context.Background()
	studentID := uuid.New()

	token, err := svc.generateStudentToken(ctx, studentID)
	require.NoError(t, err)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, studentID))
	require.ErrorIs(t, svc.ValidateStudentSession(ctx, studentID, claims.ID), ErrSessionInvalidated)
}

func TestValidateTokenRejectsForgedSignature(t *testing.T) {
	svc, _ := newAuthTestService(t)

	forged := NewAuthService(&config.Config{
		JWTSecret: "other-secret",
		JWTExpiry: time.Hour,
	}, nil, nil)
	token, err := forged.generateTeacherToken(uuid.New())
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
}

func TestSessionExpiresWithToken(t *testing.T) {
	svc, server := newAuthTestService(t)
	ctx := context.Background()
	studentID := uuid.New()

	token, err := svc.generateStudentToken(ctx, studentID)
	require.NoError(t, err)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)

	server.FastForward(2 * time.Hour)
	require.ErrorIs(t, svc.ValidateStudentSession(ctx, studentID, claims.ID), ErrSessionInvalidated)
}

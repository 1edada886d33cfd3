package utils

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("secret")
	userID := uuid.New()

	token, err := svc.GenerateToken(userID)
	require.NoError(t, err)

	got, err := svc.ParseUserID(token)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret")
	token, err := svc.GenerateToken(uuid.New())
	require.NoError(t, err)

	_, err = NewJWTService("other").ExtractUserID(token)
	assert.Error(t, err, "foreign signature")

	svc.nowFn = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = svc.ExtractUserID(token)
	assert.Error(t, err, "expired token")

	_, err = svc.ExtractUserID("not-a-token")
	assert.Error(t, err)
}

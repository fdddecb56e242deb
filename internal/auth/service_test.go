package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noveletta/backend/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := &service{secret: []byte("test-secret")}
	accountID := uuid.New()

	token, err := svc.issueToken(accountID, models.RoleAuthor)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	gotID, gotRole, err := svc.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, accountID, gotID)
	assert.Equal(t, models.RoleAuthor, gotRole)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := &service{secret: []byte("issuer-secret")}
	verifier := &service{secret: []byte("other-secret")}

	token, err := issuer.issueToken(uuid.New(), models.RoleReader)
	require.NoError(t, err)

	_, _, err = verifier.ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateToken_Garbage(t *testing.T) {
	svc := &service{secret: []byte("test-secret")}
	_, _, err := svc.ValidateToken(context.Background(), "not.a.token")
	assert.Error(t, err)
}

package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "h2ledger/pkg/domain"
	dErrors "h2ledger/pkg/domain-errors"
	"h2ledger/pkg/requestcontext"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewService("test-signing-key", "h2ledger")
	actor := id.NewActorID()

	signed, err := svc.GenerateAccessToken(actor, requestcontext.RoleVerifier, true, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, actor.String(), claims.ActorID)
	assert.Equal(t, "verifier", claims.Role)
	assert.True(t, claims.Active)
}

func TestValidateExpired(t *testing.T) {
	svc := NewService("test-signing-key", "h2ledger")

	signed, err := svc.GenerateAccessToken(id.NewActorID(), requestcontext.RoleBuyer, true, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateWrongKey(t *testing.T) {
	signed, err := NewService("key-one", "h2ledger").
		GenerateAccessToken(id.NewActorID(), requestcontext.RoleProducer, true, time.Hour)
	require.NoError(t, err)

	_, err = NewService("key-two", "h2ledger").ValidateToken(signed)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/tokenclaim/pkg/derive"
	"github.com/relves/tokenclaim/pkg/types"
)

func TestKeySigner_Verify(t *testing.T) {
	s, err := GenerateKeySigner()
	require.NoError(t, err)

	msg := TransferParams{Amount: 5, Reference: "r"}.Message()
	auth, err := s.Authorize(msg)
	require.NoError(t, err)

	assert.Equal(t, s.Address(), auth.Owner)
	assert.False(t, auth.Derived())
	require.NoError(t, VerifyAuthorization(auth, msg, nil))

	other := TransferParams{Amount: 6, Reference: "r"}.Message()
	assert.ErrorIs(t, VerifyAuthorization(auth, other, nil), ErrUnauthorizedSigner)
}

func TestNewKeySigner_InvalidSize(t *testing.T) {
	_, err := NewKeySigner(make([]byte, 10))
	assert.Error(t, err)
}

func TestVerifyAuthorization_Derived(t *testing.T) {
	program := derive.ProgramID("test-program")
	seeds := [][]byte{[]byte("token_claims")}
	addr, bump, err := derive.FindAddress(seeds, program)
	require.NoError(t, err)

	auth := Authorization{
		Owner:     addr,
		ProgramID: program,
		Seeds:     [][]byte{[]byte("token_claims"), {bump}},
	}
	trusted := map[types.Address]bool{program: true}

	require.NoError(t, VerifyAuthorization(auth, nil, trusted))

	t.Run("untrusted program", func(t *testing.T) {
		assert.ErrorIs(t, VerifyAuthorization(auth, nil, map[types.Address]bool{}), ErrUnauthorizedSigner)
	})

	t.Run("wrong owner", func(t *testing.T) {
		forged := auth
		forged.Owner = types.Address{1}
		assert.ErrorIs(t, VerifyAuthorization(forged, nil, trusted), ErrUnauthorizedSigner)
	})

	t.Run("wrong bump", func(t *testing.T) {
		forged := auth
		forged.Seeds = [][]byte{[]byte("token_claims"), {bump - 1}}
		assert.ErrorIs(t, VerifyAuthorization(forged, nil, trusted), ErrUnauthorizedSigner)
	})
}

func TestAssociatedAccount(t *testing.T) {
	owner := types.Address{1}
	mintA := types.Address{2}
	mintB := types.Address{3}

	a1, err := AssociatedAccount(owner, mintA)
	require.NoError(t, err)
	a2, err := AssociatedAccount(owner, mintA)
	require.NoError(t, err)
	b, err := AssociatedAccount(owner, mintB)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
}

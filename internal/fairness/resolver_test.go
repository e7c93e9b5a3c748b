package fairness_test

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/fairness"
)

// findProof searches proof identifiers until the roll satisfies want.
func findProof(t *testing.T, secret []byte, want func(byte) bool) string {
	t.Helper()
	for i := 0; i < 10_000; i++ {
		proof := fmt.Sprintf("0xproof%04d", i)
		if want(fairness.Roll(secret, []byte(proof))) {
			return proof
		}
	}
	t.Fatal("no proof found")
	return ""
}

func TestResolveIsDeterministic(t *testing.T) {
	t.Parallel()

	secret, err := fairness.NewSecret()
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		proof := []byte(fmt.Sprintf("tx-%d", i))
		assert.Equal(t, fairness.Resolve(secret, proof), fairness.Resolve(secret, proof))
	}
}

func TestOutcomeThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, domain.OutcomeHeads, fairness.OutcomeFromByte(0))
	assert.Equal(t, domain.OutcomeHeads, fairness.OutcomeFromByte(50))
	assert.Equal(t, domain.OutcomeHeads, fairness.OutcomeFromByte(127))
	assert.Equal(t, domain.OutcomeTails, fairness.OutcomeFromByte(128))
	assert.Equal(t, domain.OutcomeTails, fairness.OutcomeFromByte(200))
	assert.Equal(t, domain.OutcomeTails, fairness.OutcomeFromByte(255))
}

func TestResolveUsesFirstHashByte(t *testing.T) {
	t.Parallel()

	secret, err := fairness.NewSecret()
	require.NoError(t, err)

	low := findProof(t, secret, func(b byte) bool { return b < 128 })
	high := findProof(t, secret, func(b byte) bool { return b >= 128 })

	assert.Equal(t, domain.OutcomeHeads, fairness.Resolve(secret, []byte(low)))
	assert.Equal(t, domain.OutcomeTails, fairness.Resolve(secret, []byte(high)))
}

func TestResolvePanicsOnEmptyInput(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { fairness.Resolve(nil, []byte("p")) })
	assert.Panics(t, func() { fairness.Resolve([]byte("s"), nil) })
}

func TestCommitmentMatchesSecret(t *testing.T) {
	t.Parallel()

	secret, err := fairness.NewSecret()
	require.NoError(t, err)
	assert.Len(t, secret, fairness.SecretLen)

	hash := fairness.Commit(secret)
	assert.True(t, fairness.VerifyCommitment(secret, hash))

	other, err := fairness.NewSecret()
	require.NoError(t, err)
	assert.False(t, fairness.VerifyCommitment(other, hash))
}

func TestBundleVerify(t *testing.T) {
	t.Parallel()

	secret, err := fairness.NewSecret()
	require.NoError(t, err)
	proof := "0xabc"
	result := fairness.Resolve(secret, []byte(proof))

	c := domain.Commitment{
		ID:           "c-1",
		Secret:       secret,
		Hash:         fairness.Commit(secret),
		Status:       domain.CommitmentResolved,
		DepositProof: &proof,
		Result:       &result,
	}

	bundle := fairness.NewBundle(c)
	assert.Equal(t, hex.EncodeToString(secret), bundle.Secret)
	require.NoError(t, bundle.Verify())

	flipped := bundle
	if result == domain.OutcomeHeads {
		flipped.Result = domain.OutcomeTails
	} else {
		flipped.Result = domain.OutcomeHeads
	}
	assert.Error(t, flipped.Verify())
}

func TestBundleHidesSecretBeforeResolution(t *testing.T) {
	t.Parallel()

	secret, err := fairness.NewSecret()
	require.NoError(t, err)

	c := domain.Commitment{ID: "c-2", Secret: secret, Hash: fairness.Commit(secret), Status: domain.CommitmentDeposited}
	assert.Empty(t, fairness.NewBundle(c).Secret)
}

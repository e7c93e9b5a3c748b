package main

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklo360/cc-sub001/internal/fairness"
)

func runVerify(t *testing.T, args ...string) error {
	t.Helper()
	return verifyCommand().Run(context.Background(), append([]string{"verify"}, args...))
}

func TestVerifyCommand(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	proof := "0xdeadbeef"
	hash := fairness.Commit(secret)
	outcome := string(fairness.Resolve(secret, []byte(proof)))
	other := "heads"
	if outcome == "heads" {
		other = "tails"
	}
	secretHex := hex.EncodeToString(secret)

	require.NoError(t, runVerify(t, "--secret", secretHex, "--proof", proof, "--hash", hash, "--result", outcome))
	assert.ErrorContains(t, runVerify(t, "--secret", secretHex, "--proof", proof, "--hash", hash, "--result", other), "does not match recomputed")
	assert.ErrorContains(t, runVerify(t, "--secret", secretHex, "--proof", proof, "--hash", "00"), "commitment hash")
	assert.Error(t, runVerify(t, "--secret", "zz", "--proof", proof, "--hash", hash))
}

// Package fairness implements the commit-reveal outcome computation. A server
// secret is committed (its hash published) before the deposit transaction
// exists; the outcome is derived from both, so neither party controls it and
// anyone holding the revealed secret can recompute it.
package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// SecretLen is the server secret length in bytes (256 bits).
const SecretLen = 32

// headsBelow is the first-byte threshold: values below it resolve to heads.
const headsBelow = 128

// NewSecret returns a fresh cryptographically random server secret.
func NewSecret() ([]byte, error) {
	secret := make([]byte, SecretLen)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("fairness: generate secret: %w", err)
	}
	return secret, nil
}

// Commit returns the published commitment hash for secret: hex(SHA256(secret)).
func Commit(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}

// VerifyCommitment reports whether secret hashes to the published commitment.
func VerifyCommitment(secret []byte, commitmentHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Commit(secret)), []byte(commitmentHash)) == 1
}

// Resolve computes the outcome for secret and the deposit proof value. It is
// pure and deterministic. Empty inputs are a programming error and panic.
func Resolve(secret, proof []byte) domain.Outcome {
	return OutcomeFromByte(Roll(secret, proof))
}

// Roll returns the first byte of SHA256(secret ++ proof).
func Roll(secret, proof []byte) byte {
	if len(secret) == 0 || len(proof) == 0 {
		panic("fairness: resolve requires a non-empty secret and proof")
	}
	h := sha256.New()
	h.Write(secret)
	h.Write(proof)
	return h.Sum(nil)[0]
}

// OutcomeFromByte maps a roll in [0,255] to an outcome.
func OutcomeFromByte(b byte) domain.Outcome {
	if b < headsBelow {
		return domain.OutcomeHeads
	}
	return domain.OutcomeTails
}

// Bundle is everything an observer needs to recompute an outcome.
type Bundle struct {
	CommitmentID   string         `json:"commitment_id"`
	CommitmentHash string         `json:"commitment_hash"`
	Secret         string         `json:"secret"`
	DepositProofID string         `json:"deposit_proof_id"`
	Result         domain.Outcome `json:"result"`
}

// NewBundle builds the verification bundle for a resolved commitment.
func NewBundle(c domain.Commitment) Bundle {
	b := Bundle{
		CommitmentID:   c.ID,
		CommitmentHash: c.Hash,
		Secret:         hex.EncodeToString(c.RevealedSecret()),
	}
	if c.DepositProof != nil {
		b.DepositProofID = *c.DepositProof
	}
	if c.Result != nil {
		b.Result = *c.Result
	}
	return b
}

// Verify recomputes a bundle from scratch. It checks that the secret matches
// the commitment hash and that it produces the claimed result.
func (b Bundle) Verify() error {
	secret, err := hex.DecodeString(b.Secret)
	if err != nil {
		return fmt.Errorf("fairness: decode secret: %w", err)
	}
	if len(secret) == 0 || b.DepositProofID == "" {
		return fmt.Errorf("fairness: bundle is missing the secret or proof")
	}
	if !VerifyCommitment(secret, b.CommitmentHash) {
		return fmt.Errorf("fairness: secret does not match commitment %s", b.CommitmentHash)
	}
	if got := Resolve(secret, []byte(b.DepositProofID)); got != b.Result {
		return fmt.Errorf("fairness: recomputed %s, bundle claims %s", got, b.Result)
	}
	return nil
}

// Package evm is the distributed-ledger collaborator for an ERC-20 token on
// an EVM chain. It verifies deposit transfers from transaction receipts and
// executes signed transfers and burns from custody wallets.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// Backend is the subset of ethclient.Client the collaborator uses.
type Backend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// KeySource resolves a custody wallet reference to its signing key.
type KeySource interface {
	Key(ref domain.WalletRef) (*ecdsa.PrivateKey, error)
}

// Config holds chain parameters.
type Config struct {
	ChainID       int64
	TokenAddress  string
	Confirmations uint64
	PollInterval  time.Duration
	TxTimeout     time.Duration
}

// Client implements domain.DepositVerifier and domain.Ledger.
type Client struct {
	backend       Backend
	keys          KeySource
	chainID       *big.Int
	token         common.Address
	confirmations uint64
	pollInterval  time.Duration
	txTimeout     time.Duration
	logger        *slog.Logger
}

var (
	_ domain.DepositVerifier = (*Client)(nil)
	_ domain.Ledger          = (*Client)(nil)
)

// Dial connects to the RPC endpoint at url.
func Dial(ctx context.Context, url string, cfg Config, keys KeySource, logger *slog.Logger) (*Client, *ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial %s: %w", url, err)
	}
	return NewClient(ec, cfg, keys, logger), ec, nil
}

// NewClient wraps an existing backend.
func NewClient(backend Backend, cfg Config, keys KeySource, logger *slog.Logger) *Client {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	timeout := cfg.TxTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	confirmations := cfg.Confirmations
	if confirmations == 0 {
		confirmations = 1
	}
	return &Client{
		backend:       backend,
		keys:          keys,
		chainID:       big.NewInt(cfg.ChainID),
		token:         common.HexToAddress(cfg.TokenAddress),
		confirmations: confirmations,
		pollInterval:  poll,
		txTimeout:     timeout,
		logger:        logger.With(slog.String("component", "evm")),
	}
}

// IsAddress reports whether s is a well-formed hex address.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// IsTxHash reports whether s looks like a 32-byte transaction hash.
func IsTxHash(s string) bool {
	if len(s) != 66 || s[:2] != "0x" {
		return false
	}
	for _, r := range s[2:] {
		if !isHex(r) {
			return false
		}
	}
	return true
}

// Canonical returns the lowercase 0x form of a transaction hash. Hex is
// case-insensitive, so every casing of one hash names the same transaction.
func (c *Client) Canonical(proofID string) (string, error) {
	proofID = strings.TrimSpace(proofID)
	if rest, ok := strings.CutPrefix(proofID, "0X"); ok {
		proofID = "0x" + rest
	}
	if !IsTxHash(proofID) {
		return "", fmt.Errorf("evm: %q is not a transaction hash: %w", proofID, domain.ErrInvalidProof)
	}
	return common.HexToHash(proofID).Hex(), nil
}

func isHex(r rune) bool {
	return ('0' <= r && r <= '9') || ('a' <= r && r <= 'f') || ('A' <= r && r <= 'F')
}

func toBig(amount int64) *big.Int {
	return big.NewInt(amount)
}

// toInt64 narrows a token amount. Amounts beyond int64 saturate, which only
// ever over-reports a deposit already far above any stake bound.
func toInt64(v *big.Int) int64 {
	if !v.IsInt64() {
		if v.Sign() < 0 {
			return 0
		}
		return int64(^uint64(0) >> 1)
	}
	return v.Int64()
}

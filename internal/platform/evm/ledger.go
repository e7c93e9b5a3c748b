package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// ErrReverted is returned when a submitted transaction mined but failed.
var ErrReverted = errors.New("evm: transaction reverted")

// Transfer sends amount tokens from the custody wallet to the address.
func (c *Client) Transfer(ctx context.Context, from domain.WalletRef, to string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("evm: transfer amount must be positive, got %d", amount)
	}
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("evm: transfer to %q: %w", to, domain.ErrInvalidWallet)
	}
	return c.send(ctx, from, packTransfer(common.HexToAddress(to), toBig(amount)), "transfer")
}

// Destroy burns amount tokens held by the named wallet. The token's burn()
// only ever debits msg.sender, so no other wallet can be affected.
func (c *Client) Destroy(ctx context.Context, from domain.WalletRef, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("evm: burn amount must be positive, got %d", amount)
	}
	return c.send(ctx, from, packBurn(toBig(amount)), "burn")
}

// Balance returns the token balance of address.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("evm: balance of %q: %w", address, domain.ErrInvalidWallet)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &c.token,
		Data: packBalanceOf(common.HexToAddress(address)),
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("evm: balanceOf %s: %w", address, err)
	}
	return toInt64(new(big.Int).SetBytes(out)), nil
}

// send signs a dynamic-fee call to the token contract, submits it and waits
// for a successful receipt.
func (c *Client) send(ctx context.Context, from domain.WalletRef, data []byte, op string) (string, error) {
	key, err := c.keys.Key(from)
	if err != nil {
		return "", fmt.Errorf("evm: %s from %s: %w", op, from.Role, err)
	}
	sender := ethcrypto.PubkeyToAddress(key.PublicKey)

	nonce, err := c.backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return "", fmt.Errorf("evm: nonce for %s: %w", sender.Hex(), err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("evm: gas tip: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("evm: latest header: %w", err)
	}
	feeCap := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: sender, To: &c.token, Data: data})
	if err != nil {
		return "", fmt.Errorf("evm: estimate gas for %s: %w", op, err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas * 12 / 10,
		To:        &c.token,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return "", fmt.Errorf("evm: sign %s: %w", op, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("evm: send %s: %w", op, err)
	}

	hash := signed.Hash().Hex()
	c.logger.InfoContext(ctx, "transaction submitted",
		slog.String("op", op),
		slog.String("from", string(from.Role)),
		slog.String("tx", hash),
	)
	if err := c.waitMined(ctx, signed.Hash()); err != nil {
		return hash, fmt.Errorf("evm: %s %s: %w", op, hash, err)
	}
	return hash, nil
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		r, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if r.Status != types.ReceiptStatusSuccessful {
				return ErrReverted
			}
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

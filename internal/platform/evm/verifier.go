package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// transfer is one decoded ERC-20 Transfer event.
type transfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
}

// tokenTransfers decodes the token's Transfer events from a receipt.
func (c *Client) tokenTransfers(r *types.Receipt) []transfer {
	var out []transfer
	for _, lg := range r.Logs {
		if lg.Address != c.token || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		out = append(out, transfer{
			From:   common.BytesToAddress(lg.Topics[1].Bytes()),
			To:     common.BytesToAddress(lg.Topics[2].Bytes()),
			Amount: new(big.Int).SetBytes(lg.Data),
		})
	}
	return out
}

// confirmedReceipt loads the receipt for proofID. A missing, failed or
// insufficiently confirmed transaction yields a reason rather than an error,
// since the caller may simply retry later.
func (c *Client) confirmedReceipt(ctx context.Context, proofID string) (*types.Receipt, string, error) {
	if !IsTxHash(proofID) {
		return nil, "malformed transaction hash", nil
	}
	r, err := c.backend.TransactionReceipt(ctx, common.HexToHash(proofID))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, "transaction not found or not yet mined", nil
		}
		return nil, "", fmt.Errorf("evm: receipt %s: %w", proofID, err)
	}
	if r.Status != types.ReceiptStatusSuccessful {
		return nil, "transaction reverted", nil
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("evm: block number: %w", err)
	}
	if r.BlockNumber == nil || head+1 < r.BlockNumber.Uint64()+c.confirmations {
		return nil, "awaiting confirmations", nil
	}
	return r, "", nil
}

// VerifyTransfer sums the token moved from -> to in the transaction and
// checks it against minAmount.
func (c *Client) VerifyTransfer(ctx context.Context, proofID, from string, minAmount int64, to string) (domain.TransferVerification, error) {
	r, reason, err := c.confirmedReceipt(ctx, proofID)
	if err != nil || r == nil {
		return domain.TransferVerification{Reason: reason}, err
	}

	fromAddr, toAddr := common.HexToAddress(from), common.HexToAddress(to)
	total := new(big.Int)
	for _, t := range c.tokenTransfers(r) {
		if t.From == fromAddr && t.To == toAddr {
			total.Add(total, t.Amount)
		}
	}

	v := domain.TransferVerification{Amount: toInt64(total)}
	if total.Cmp(toBig(minAmount)) < 0 {
		v.Reason = fmt.Sprintf("transferred %s, need %d from %s to %s", total, minAmount, fromAddr.Hex(), toAddr.Hex())
		c.logger.DebugContext(ctx, "deposit short",
			slog.String("proof", proofID),
			slog.String("reason", v.Reason),
		)
		return v, nil
	}
	v.Valid = true
	return v, nil
}

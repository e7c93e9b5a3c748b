package evm

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aklo360/cc-sub001/internal/domain"
)

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	elsewhere = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	player    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	hotAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeBackend struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
	head     uint64
	sent     []*types.Transaction
	balance  *big.Int
	revert   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{receipts: map[common.Hash]*types.Receipt{}, head: 100, balance: big.NewInt(0)}
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: big.NewInt(10)}, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 50_000, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	status := types.ReceiptStatusSuccessful
	if f.revert {
		status = types.ReceiptStatusFailed
	}
	f.receipts[tx.Hash()] = &types.Receipt{Status: status, BlockNumber: new(big.Int).SetUint64(f.head)}
	return nil
}

func (f *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return word(f.balance.Bytes()), nil
}

func (f *fakeBackend) addReceipt(hash common.Hash, block uint64, status uint64, logs ...*types.Log) {
	f.receipts[hash] = &types.Receipt{Status: status, BlockNumber: new(big.Int).SetUint64(block), Logs: logs}
}

func transferLog(token, from, to common.Address, amount int64) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: word(big.NewInt(amount).Bytes()),
	}
}

type staticKeys struct{ key *ecdsa.PrivateKey }

func (s staticKeys) Key(domain.WalletRef) (*ecdsa.PrivateKey, error) { return s.key, nil }

func newTestClient(t *testing.T, b *fakeBackend, confirmations uint64) *Client {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return NewClient(b, Config{
		ChainID:       8453,
		TokenAddress:  tokenAddr.Hex(),
		Confirmations: confirmations,
		PollInterval:  time.Millisecond,
		TxTimeout:     time.Second,
	}, staticKeys{key: key}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestVerifyTransfer(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	c := newTestClient(t, b, 1)
	ctx := context.Background()

	good := common.HexToHash("0x01")
	b.addReceipt(good, 99, types.ReceiptStatusSuccessful,
		transferLog(tokenAddr, player, hotAddr, 60),
		transferLog(tokenAddr, player, hotAddr, 40),
		transferLog(tokenAddr, player, elsewhere, 5),
	)

	v, err := c.VerifyTransfer(ctx, good.Hex(), player.Hex(), 100, hotAddr.Hex())
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, int64(100), v.Amount)

	// Value sent anywhere but the destination does not count toward it.
	v, err = c.VerifyTransfer(ctx, good.Hex(), player.Hex(), 101, hotAddr.Hex())
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, int64(100), v.Amount)
	assert.NotEmpty(t, v.Reason)
}

func TestCanonicalProof(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newFakeBackend(), 1)
	lower := "0xabcdef0000000000000000000000000000000000000000000000000000000001"

	for _, spelling := range []string{
		lower,
		"0xABCDEF0000000000000000000000000000000000000000000000000000000001",
		"0xAbCdEf0000000000000000000000000000000000000000000000000000000001",
		"0XABCDEF0000000000000000000000000000000000000000000000000000000001",
		"  " + lower + "\n",
	} {
		got, err := c.Canonical(spelling)
		require.NoError(t, err, spelling)
		assert.Equal(t, lower, got, spelling)
	}

	for _, bad := range []string{"", "0x01", "abcdef0000000000000000000000000000000000000000000000000000000001xx", "0x" + strings.Repeat("g", 64)} {
		_, err := c.Canonical(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidProof, bad)
	}
}

func TestVerifyTransferAcceptsAnyCasing(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	c := newTestClient(t, b, 1)

	h := common.HexToHash("0xabcdef0000000000000000000000000000000000000000000000000000000001")
	b.addReceipt(h, 90, types.ReceiptStatusSuccessful, transferLog(tokenAddr, player, hotAddr, 100))

	upper := "0x" + strings.ToUpper(h.Hex()[2:])
	v, err := c.VerifyTransfer(context.Background(), upper, player.Hex(), 100, hotAddr.Hex())
	require.NoError(t, err)
	assert.True(t, v.Valid, "same transaction, so the guard must key on the canonical form")

	canon, err := c.Canonical(upper)
	require.NoError(t, err)
	assert.Equal(t, h.Hex(), canon)
}

func TestVerifyTransferIgnoresOtherTokensAndSenders(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	c := newTestClient(t, b, 1)

	h := common.HexToHash("0x02")
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	b.addReceipt(h, 90, types.ReceiptStatusSuccessful,
		transferLog(other, player, hotAddr, 1_000),
		transferLog(tokenAddr, hotAddr, hotAddr, 1_000),
	)

	v, err := c.VerifyTransfer(context.Background(), h.Hex(), player.Hex(), 1, hotAddr.Hex())
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Zero(t, v.Amount)
}

func TestVerifyTransferUnusableProofs(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	c := newTestClient(t, b, 3)
	ctx := context.Background()

	reverted := common.HexToHash("0x03")
	b.addReceipt(reverted, 50, types.ReceiptStatusFailed, transferLog(tokenAddr, player, hotAddr, 100))
	fresh := common.HexToHash("0x04")
	b.addReceipt(fresh, 99, types.ReceiptStatusSuccessful, transferLog(tokenAddr, player, hotAddr, 100))

	cases := map[string]string{
		"malformed":   "not-a-hash",
		"missing":     common.HexToHash("0x05").Hex(),
		"reverted":    reverted.Hex(),
		"unconfirmed": fresh.Hex(),
	}
	for name, proof := range cases {
		v, err := c.VerifyTransfer(ctx, proof, player.Hex(), 100, hotAddr.Hex())
		require.NoError(t, err, name)
		assert.False(t, v.Valid, name)
		assert.NotEmpty(t, v.Reason, name)
	}
}

func TestTransferSignsAndWaits(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	c := newTestClient(t, b, 1)

	hash, err := c.Transfer(context.Background(), domain.WalletRef{Role: domain.WalletHot}, player.Hex(), 196)
	require.NoError(t, err)
	require.Len(t, b.sent, 1)

	tx := b.sent[0]
	assert.Equal(t, tx.Hash().Hex(), hash)
	assert.Equal(t, tokenAddr, *tx.To())
	assert.Equal(t, packTransfer(player, big.NewInt(196)), tx.Data())
	assert.Equal(t, big.NewInt(8453), tx.ChainId())
	assert.Equal(t, big.NewInt(21), tx.GasFeeCap())
}

func TestDestroyReverted(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	b.revert = true
	c := newTestClient(t, b, 1)

	_, err := c.Destroy(context.Background(), domain.WalletRef{Role: domain.WalletBurn}, 10)
	require.ErrorIs(t, err, ErrReverted)
	require.Len(t, b.sent, 1)
	assert.Equal(t, packBurn(big.NewInt(10)), b.sent[0].Data())
}

func TestTransferRejectsBadInput(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, newFakeBackend(), 1)
	ref := domain.WalletRef{Role: domain.WalletHot}

	_, err := c.Transfer(context.Background(), ref, "nope", 1)
	require.ErrorIs(t, err, domain.ErrInvalidWallet)
	_, err = c.Transfer(context.Background(), ref, player.Hex(), 0)
	require.Error(t, err)
}

func TestBalance(t *testing.T) {
	t.Parallel()

	b := newFakeBackend()
	b.balance = big.NewInt(123_456)
	c := newTestClient(t, b, 1)

	got, err := c.Balance(context.Background(), hotAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(123_456), got)
}

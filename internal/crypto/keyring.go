package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/aklo360/cc-sub001/internal/domain"
)

// Keyring resolves wallet key references (encrypted key file paths) to
// signing keys. Decrypted keys are cached in memory for the process lifetime
// because PBKDF2 derivation is deliberately slow.
type Keyring struct {
	password string

	mu   sync.Mutex
	keys map[string]*ecdsa.PrivateKey
}

// NewKeyring returns a keyring that decrypts key files with password.
func NewKeyring(password string) *Keyring {
	return &Keyring{password: password, keys: make(map[string]*ecdsa.PrivateKey)}
}

// Key returns the signing key for ref. The key must control ref.Address.
func (k *Keyring) Key(ref domain.WalletRef) (*ecdsa.PrivateKey, error) {
	if ref.KeyRef == "" {
		return nil, fmt.Errorf("crypto: %s wallet has no key reference: %w", ref.Role, domain.ErrWalletNotConfigured)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	pk, ok := k.keys[ref.KeyRef]
	if !ok {
		data, err := os.ReadFile(ref.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading key file for %s wallet: %w", ref.Role, err)
		}
		pk, err = DecryptKey(data, k.password)
		if err != nil {
			return nil, err
		}
		k.keys[ref.KeyRef] = pk
	}

	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)
	if !strings.EqualFold(addr.Hex(), common.HexToAddress(ref.Address).Hex()) {
		return nil, fmt.Errorf("crypto: key file for %s wallet controls %s, not %s", ref.Role, addr.Hex(), ref.Address)
	}
	return pk, nil
}

package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	transferTopic     = ethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	transferSelector  = ethcrypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	burnSelector      = ethcrypto.Keccak256([]byte("burn(uint256)"))[:4]
	balanceOfSelector = ethcrypto.Keccak256([]byte("balanceOf(address)"))[:4]
)

// word left-pads b to one 32-byte ABI word.
func word(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

func concatBytes(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func packTransfer(to common.Address, amount *big.Int) []byte {
	return concatBytes(transferSelector, word(to.Bytes()), word(amount.Bytes()))
}

func packBurn(amount *big.Int) []byte {
	return concatBytes(burnSelector, word(amount.Bytes()))
}

func packBalanceOf(owner common.Address) []byte {
	return concatBytes(balanceOfSelector, word(owner.Bytes()))
}

package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the enclave key used for withdraw transactions and state-root
// commitments. The key never leaves this struct.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key.
func NewSigner(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer's on-chain address.
func (s *Signer) Address() common.Address { return s.address }

// SignCommitment signs keccak256(stateRoot || uint256(term)), the digest the
// contract's setState recomputes. The recovery byte is shifted to 27/28.
func (s *Signer) SignCommitment(stateRoot common.Hash, term uint64) ([]byte, error) {
	packed := append(stateRoot.Bytes(), common.LeftPadBytes(new(big.Int).SetUint64(term).Bytes(), 32)...)
	sig, err := crypto.Sign(crypto.Keccak256(packed), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign commitment: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignTx signs a transaction with the enclave key for the given chain.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

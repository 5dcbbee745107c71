// Package ethutil provides EIP-191 personal-message signature helpers.
package ethutil

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// HashPersonalMessage hashes a message the way personal_sign does:
// keccak256("\x19Ethereum Signed Message:\n" + len(message) + message).
func HashPersonalMessage(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256(append([]byte(prefix), message...))
}

// DecodeSignature decodes a hex signature into 65 bytes (r,s,v). 64-byte
// EIP-2098 compact signatures from some wallets are expanded first.
func DecodeSignature(sigHex string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(sigHex), "0x")
	sig, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("signature is not hex: %w", err)
	}

	switch len(sig) {
	case 65:
		return sig, nil
	case 64:
		// EIP-2098: yParity is packed into the top bit of s.
		out := make([]byte, 65)
		copy(out, sig)
		out[64] = 27 + (sig[32] >> 7)
		out[32] &= 0x7F
		return out, nil
	default:
		return nil, fmt.Errorf("signature must be 64 or 65 bytes, got %d", len(sig))
	}
}

// RecoverAddress recovers the signer of an EIP-191 personal-sign signature
// over message.
func RecoverAddress(message []byte, sigHex string) (common.Address, error) {
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}

	// go-ethereum expects the recovery id as 0/1, wallets emit 27/28.
	recovery := make([]byte, 65)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}

	pub, err := crypto.SigToPub(HashPersonalMessage(message), recovery)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyPersonalSignature reports whether sigHex is a valid personal-sign
// signature by address over message.
func VerifyPersonalSignature(address string, message []byte, sigHex string) (bool, error) {
	if !common.IsHexAddress(address) {
		return false, fmt.Errorf("invalid wallet address %q", address)
	}
	recovered, err := RecoverAddress(message, sigHex)
	if err != nil {
		return false, err
	}
	return recovered == common.HexToAddress(address), nil
}

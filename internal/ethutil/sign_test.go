package ethutil

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
)

func signPersonal(t *testing.T, message string) (address, sigHex string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := crypto.Sign(HashPersonalMessage([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// Present the signature the way wallets do, with v in {27, 28}.
	sig[64] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), "0x" + hex.EncodeToString(sig)
}

func TestRecoverAddress_RoundTrip(t *testing.T) {
	const message = "Login Void Wallet Timestamp:1700000000000"
	address, sig := signPersonal(t, message)

	recovered, err := RecoverAddress([]byte(message), sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered.Hex() != address {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), address)
	}
}

func TestVerifyPersonalSignature_WrongSigner(t *testing.T) {
	const message = "Cloak Wallet Balances Secret"
	_, sig := signPersonal(t, message)
	otherAddress, _ := signPersonal(t, message)

	ok, err := VerifyPersonalSignature(otherAddress, []byte(message), sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("signature verified for the wrong signer")
	}
}

func TestVerifyPersonalSignature_WrongMessage(t *testing.T) {
	address, sig := signPersonal(t, "original message")

	ok, err := VerifyPersonalSignature(address, []byte("tampered message"), sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("signature verified for a different message")
	}
}

func TestDecodeSignature_Compact(t *testing.T) {
	const message = "compact"
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := crypto.Sign(HashPersonalMessage([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Pack into EIP-2098 compact form: 64 bytes, yParity in the top bit of s.
	compact := make([]byte, 64)
	copy(compact, sig[:64])
	compact[32] |= sig[64] << 7

	recovered, err := RecoverAddress([]byte(message), "0x"+hex.EncodeToString(compact))
	if err != nil {
		t.Fatalf("recover compact: %v", err)
	}
	if recovered != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("compact signature recovered wrong address")
	}
}

func TestDecodeSignature_BadLength(t *testing.T) {
	if _, err := DecodeSignature("0xdeadbeef"); err == nil {
		t.Fatalf("expected error for short signature")
	}
}

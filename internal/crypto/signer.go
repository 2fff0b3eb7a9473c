package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// intentPrefix separates intent signatures from any other message the same
// key might sign.
const intentPrefix = "\x19MEV Trade Intent:\n"

// Signer signs trade intents with a secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer from a hex private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the address derived from the key.
func (s *Signer) Address() common.Address {
	return s.address
}

// IntentDigest is keccak256(prefix || len(intent) || intent).
func IntentDigest(intent []byte) []byte {
	return ethcrypto.Keccak256(
		[]byte(intentPrefix),
		[]byte(strconv.Itoa(len(intent))),
		intent,
	)
}

// Sign returns the 65-byte r||s||v signature over the intent digest as 0x
// hex, with v in {27,28}.
func (s *Signer) Sign(intent []byte) (string, error) {
	sig, err := ethcrypto.Sign(IntentDigest(intent), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverSigner returns the address that produced sigHex over intent.
func RecoverSigner(intent []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: signature hex: %w", err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(IntentDigest(intent), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

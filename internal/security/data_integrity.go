// Package security signs API responses so consumers can check that a fee
// report came from this service and was not altered in transit.
package security

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

// Response headers carrying the signature
const (
	HeaderSignature = "X-Signature"
	HeaderSigner    = "X-Signer"
)

// ErrSignatureMismatch is returned when a signature does not recover to the expected signer
var ErrSignatureMismatch = errors.New("signature does not match signer")

// Signer produces secp256k1 signatures over keccak256(payload)
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner loads a hex-encoded secp256k1 key. An empty key generates an
// ephemeral one, which only lives as long as the process.
func NewSigner(hexKey string) (*Signer, error) {
	var (
		key *ecdsa.PrivateKey
		err error
	)

	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		key, err = crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
		logrus.Warn("SIGNING_KEY not set, using an ephemeral signing key")
	} else {
		key, err = crypto.HexToECDSA(hexKey)
		if err != nil {
			return nil, fmt.Errorf("invalid signing key: %w", err)
		}
	}

	s := &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}
	logrus.WithField("signer", s.address.Hex()).Info("Response signing enabled")
	return s, nil
}

// Address returns the signer's Ethereum address
func (s *Signer) Address() common.Address {
	return s.address
}

// Digest is the keccak256 hash that gets signed
func Digest(payload []byte) common.Hash {
	return crypto.Keccak256Hash(payload)
}

// Sign returns the 65-byte [R || S || V] signature over Digest(payload), hex encoded
func (s *Signer) Sign(payload []byte) (string, error) {
	sig, err := crypto.Sign(Digest(payload).Bytes(), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// Recover returns the address that produced signature over payload
func Recover(payload []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	pub, err := crypto.SigToPub(Digest(payload).Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that signature over payload was produced by signer
func Verify(payload []byte, signature string, signer common.Address) error {
	got, err := Recover(payload, signature)
	if err != nil {
		return err
	}
	if got != signer {
		return fmt.Errorf("%w: recovered %s, want %s", ErrSignatureMismatch, got.Hex(), signer.Hex())
	}
	return nil
}

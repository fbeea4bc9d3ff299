package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spruceid/siwe-go"
)

var (
	ErrBadSignature = errors.New("signature does not match address")
	ErrBadMessage   = errors.New("malformed sign-in message")
	ErrNoFID        = errors.New("sign-in message names no farcaster fid")
)

// ParseSIWE parses an EIP-4361 message. The address line must be EIP-55
// checksummed.
func ParseSIWE(message string) (*siwe.Message, error) {
	m, err := siwe.ParseMessage(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return m, nil
}

// CheckSIWETime rejects a message outside its expiration and not-before
// window.
func CheckSIWETime(m *siwe.Message, now time.Time) error {
	if ok, err := m.ValidAt(now); !ok || err != nil {
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return nil
}

// VerifySIWE checks the personal_sign signature over m against its address.
// Both 27/28 and 0/1 recovery ids are accepted.
func VerifySIWE(m *siwe.Message, sigHex string) error {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] < 27 {
		sig[crypto.RecoveryIDOffset] += 27
	}
	if _, err := m.VerifyEIP191(hexutil.Encode(sig)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// FarcasterFID reads the farcaster://fid/<n> resource of a Sign In With
// Farcaster message.
func FarcasterFID(m *siwe.Message) (int64, error) {
	for _, r := range m.GetResources() {
		if r.Scheme != "farcaster" || r.Host != "fid" {
			continue
		}
		fid, err := strconv.ParseInt(strings.TrimPrefix(r.Path, "/"), 10, 64)
		if err != nil || fid <= 0 {
			return 0, fmt.Errorf("%w: bad fid %q", ErrBadMessage, r.Path)
		}
		return fid, nil
	}
	return 0, ErrNoFID
}

package core

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestCompressRoundTrip(t *testing.T) {
	src := bytes.Repeat([]byte(`{"userId":"u1","attempts":3}`), 200)
	packed, err := Compress(src)
	require.NoError(t, err)
	require.Less(t, len(packed), len(src))

	out, err := Decompress(packed)
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestHashChain(t *testing.T) {
	a := HashChain([]byte("data"), "GENESIS")
	require.Len(t, a, 64)
	require.Equal(t, Hash([]byte("dataGENESIS")), a)
	require.NotEqual(t, a, HashChain([]byte("data"), a))
}

func TestVerifySignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	msg := []byte("POST /api/generate-claim-root")
	sig := ed25519.Sign(priv, msg)
	require.True(t, VerifySignature(pub, msg, sig))
	require.False(t, VerifySignature(pub, []byte("tampered"), sig))
	require.False(t, VerifySignature(pub[:10], msg, sig))
}

func siweText(address, nonce string, issued time.Time, extra string) string {
	return fmt.Sprintf("app.example.com wants you to sign in with your Ethereum account:\n%s\n\nSign in to play.\n\nURI: https://app.example.com\nVersion: 1\nChain ID: 8453\nNonce: %s\nIssued At: %s%s",
		address, nonce, issued.UTC().Format(time.RFC3339), extra)
}

func TestParseSIWE(t *testing.T) {
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := siweText("0x1111111111111111111111111111111111111111", "abcdef123456", issued,
		"\nExpiration Time: 2025-03-01T12:10:00Z\nResources:\n- https://a.example\n- farcaster://fid/1234")

	m, err := ParseSIWE(msg)
	require.NoError(t, err)
	require.Equal(t, "app.example.com", m.GetDomain())
	require.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), m.GetAddress())
	require.Equal(t, 8453, m.GetChainID())
	require.Equal(t, "abcdef123456", m.GetNonce())
	require.Len(t, m.GetResources(), 2)

	fid, err := FarcasterFID(m)
	require.NoError(t, err)
	require.Equal(t, int64(1234), fid)

	require.NoError(t, CheckSIWETime(m, issued.Add(5*time.Minute)))
	require.ErrorIs(t, CheckSIWETime(m, issued.Add(11*time.Minute)), ErrBadMessage)
}

func TestParseSIWERejects(t *testing.T) {
	issued := time.Now()
	good := siweText("0x1111111111111111111111111111111111111111", "abcdef123456", issued, "")

	bad := map[string]string{
		"header":   strings.Replace(good, "wants you to sign in", "would like", 1),
		"address":  strings.Replace(good, "0x1111111111111111111111111111111111111111", "0x12", 1),
		"checksum": strings.Replace(good, "0x1111111111111111111111111111111111111111", "0xabcdef0123456789abcdef0123456789abcdef01", 1),
		"version":  strings.Replace(good, "Version: 1", "Version: 2", 1),
		"nonce":    strings.Replace(good, "abcdef123456", "abc", 1),
		"chain":    strings.Replace(good, "Chain ID: 8453", "Chain ID: base", 1),
	}
	for name, msg := range bad {
		_, err := ParseSIWE(msg)
		require.ErrorIs(t, err, ErrBadMessage, name)
	}

	m, err := ParseSIWE(good)
	require.NoError(t, err)
	_, err = FarcasterFID(m)
	require.ErrorIs(t, err, ErrNoFID)
}

func TestVerifySIWE(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	text := siweText(addr, "abcdef123456", time.Now(), "")
	m, err := ParseSIWE(text)
	require.NoError(t, err)

	sig, err := crypto.Sign(accounts.TextHash([]byte(text)), key)
	require.NoError(t, err)

	// Raw 0/1 recovery id.
	require.NoError(t, VerifySIWE(m, hexutil.Encode(sig)))

	// Wallets send 27/28.
	walletSig := append([]byte(nil), sig...)
	walletSig[64] += 27
	require.NoError(t, VerifySIWE(m, hexutil.Encode(walletSig)))

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged, err := ParseSIWE(siweText(crypto.PubkeyToAddress(other.PublicKey).Hex(), "abcdef123456", time.Now(), ""))
	require.NoError(t, err)
	require.ErrorIs(t, VerifySIWE(forged, hexutil.Encode(walletSig)), ErrBadSignature)

	changed, err := ParseSIWE(strings.Replace(text, "abcdef123456", "abcdef654321", 1))
	require.NoError(t, err)
	require.ErrorIs(t, VerifySIWE(changed, hexutil.Encode(walletSig)), ErrBadSignature)

	require.Error(t, VerifySIWE(m, "0x1234"))
	require.Error(t, VerifySIWE(m, "nothex"))
}

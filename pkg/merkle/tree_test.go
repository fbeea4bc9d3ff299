package merkle

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func sampleValues(t *testing.T) []Value {
	t.Helper()
	rows := [][]string{
		{"0x1111111111111111111111111111111111111111", "5000000000000000000"},
		{"0x2222222222222222222222222222222222222222", "2500000000000000000"},
		{"0x3333333333333333333333333333333333333333", "1000000000000000000"},
		{"0x4444444444444444444444444444444444444444", "7"},
		{"0xAbCdEf0123456789abcdef0123456789ABCDEF01", "1"},
	}
	vals, err := ValuesFromStrings(rows)
	require.NoError(t, err)
	return vals
}

func TestEveryProofVerifies(t *testing.T) {
	vals := sampleValues(t)
	tree, err := Of(vals)
	require.NoError(t, err)
	require.Equal(t, len(vals), tree.Len())

	for i, v := range vals {
		proof, err := tree.Proof(i)
		require.NoError(t, err)
		require.NotEmpty(t, proof)
		require.True(t, Verify(tree.Root(), v, proof), "value %d", i)
	}
}

func TestRootIgnoresInputOrder(t *testing.T) {
	vals := sampleValues(t)
	a, err := Of(vals)
	require.NoError(t, err)

	reversed := make([]Value, len(vals))
	for i, v := range vals {
		reversed[len(vals)-1-i] = v
	}
	b, err := Of(reversed)
	require.NoError(t, err)
	require.Equal(t, a.Root(), b.Root())
}

func TestSingleLeafRoot(t *testing.T) {
	v, err := NewValue("0x1111111111111111111111111111111111111111", "42")
	require.NoError(t, err)
	tree, err := Of([]Value{v})
	require.NoError(t, err)

	addressTy, _ := abi.NewType("address", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)
	packed, err := abi.Arguments{{Type: addressTy}, {Type: uintTy}}.Pack(v.Address, big.NewInt(42))
	require.NoError(t, err)
	require.Len(t, packed, 64)
	want := crypto.Keccak256Hash(crypto.Keccak256(packed))

	require.Equal(t, want.Hex(), tree.Root())
	proof, err := tree.Proof(0)
	require.NoError(t, err)
	require.Empty(t, proof)
	require.True(t, Verify(tree.Root(), v, proof))
}

func TestTwoLeafRootIsSortedPair(t *testing.T) {
	vals := sampleValues(t)[:2]
	tree, err := Of(vals)
	require.NoError(t, err)

	h0, err := LeafHash(vals[0])
	require.NoError(t, err)
	h1, err := LeafHash(vals[1])
	require.NoError(t, err)
	require.Equal(t, hashPair(h0, h1).Hex(), tree.Root())
	require.Equal(t, hashPair(h0, h1), hashPair(h1, h0))
}

func TestTamperedProofFails(t *testing.T) {
	vals := sampleValues(t)
	tree, err := Of(vals)
	require.NoError(t, err)

	proof, err := tree.Proof(1)
	require.NoError(t, err)

	wrongAmount := Value{Address: vals[1].Address, Amount: big.NewInt(1)}
	require.False(t, Verify(tree.Root(), wrongAmount, proof))

	bad := append([]string(nil), proof...)
	bad[0] = common.Hash{}.Hex()
	require.False(t, Verify(tree.Root(), vals[1], bad))

	require.False(t, Verify(tree.Root(), vals[1], []string{"0xzz"}))
}

func TestFindIgnoresCase(t *testing.T) {
	tree, err := Of(sampleValues(t))
	require.NoError(t, err)

	i, v, err := tree.Find("0xabcdef0123456789ABCDEF0123456789abcdef01")
	require.NoError(t, err)
	require.Equal(t, 4, i)
	require.Equal(t, "1", v.Amount.String())

	_, _, err = tree.Find("0x9999999999999999999999999999999999999999")
	require.ErrorIs(t, err, ErrNotFound)
	_, _, err = tree.Find("not-an-address")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValueJSON(t *testing.T) {
	v, err := NewValue("0xAbCdEf0123456789abcdef0123456789ABCDEF01", "123")
	require.NoError(t, err)
	b, err := json.Marshal(v)
	require.NoError(t, err)
	require.JSONEq(t, `["0xabcdef0123456789abcdef0123456789abcdef01","123"]`, string(b))

	var back Value
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, v.Address, back.Address)
	require.Equal(t, 0, v.Amount.Cmp(back.Amount))

	require.Error(t, json.Unmarshal([]byte(`["0x1111111111111111111111111111111111111111"]`), &back))
}

func TestRejectsBadInput(t *testing.T) {
	_, err := Of(nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = NewValue("0x123", "1")
	require.Error(t, err)
	_, err = NewValue("0x1111111111111111111111111111111111111111", "-1")
	require.Error(t, err)
	_, err = NewValue("0x1111111111111111111111111111111111111111", "1.5")
	require.Error(t, err)

	tree, err := Of(sampleValues(t))
	require.NoError(t, err)
	_, err = tree.Proof(99)
	require.ErrorIs(t, err, ErrIndex)
}

// Vectors produced by @openzeppelin/merkle-tree StandardMerkleTree.of with
// leaf encoding ["address", "uint256"].
func TestMatchesStandardMerkleTree(t *testing.T) {
	pair, err := ValuesFromStrings([][]string{
		{"0x1111111111111111111111111111111111111111", "5000000000000000000"},
		{"0x2222222222222222222222222222222222222222", "2500000000000000000"},
	})
	require.NoError(t, err)
	tree, err := Of(pair)
	require.NoError(t, err)
	require.Equal(t, "0xd4dee0beab2d53f2cc83e567171bd2820e49898130a22622b10ead383e90bd77", tree.Root())

	vals, err := ValuesFromStrings([][]string{
		{"0x1111111111111111111111111111111111111111", "5000000000000000000"},
		{"0x2222222222222222222222222222222222222222", "2500000000000000000"},
		{"0x3333333333333333333333333333333333333333", "1500000000000000000"},
		{"0x4444444444444444444444444444444444444444", "1000000000000000000"},
		{"0x5555555555555555555555555555555555555555", "1"},
	})
	require.NoError(t, err)
	tree, err = Of(vals)
	require.NoError(t, err)
	require.Equal(t, "0xe9f48e8d2f7970f385564fb2b5d6a54bfd9078d4ab229b65eef55062e9bcb02a", tree.Root())

	proofs := map[int][]string{
		0: {
			"0x8610c4ddba34d72ee1dabba4f1a813087579d4c6579c495c101530432969efa7",
			"0x3d0cb8b25cccf19dbbcdc1d87e11349e3e71202ae97d267d5414a94df6c6962f",
		},
		3: {
			"0x6906f9b4ada8fe83b0371d6585849c98a5836a0c81fbb8f87a82008379a9159e",
			"0xeb02c421cfa48976e66dfb29120745909ea3a0f843456c263cf8f1253483e283",
			"0x3d0cb8b25cccf19dbbcdc1d87e11349e3e71202ae97d267d5414a94df6c6962f",
		},
		4: {
			"0xb92c48e9d7abe27fd8dfd6b5dfdbfb1c9a463f80c712b66f3a5180a090cccafc",
			"0x684586cd00e185515f6a89b2b3b5df2f1740088931930ed07b6117eb544b7724",
		},
	}
	for i, want := range proofs {
		got, err := tree.Proof(i)
		require.NoError(t, err)
		require.Equal(t, want, got, "value %d", i)
	}
}

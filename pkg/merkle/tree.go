// Package merkle builds prize claim trees compatible with OpenZeppelin's
// StandardMerkleTree for the leaf encoding ["address", "uint256"], so the
// roots and proofs it produces verify against MerkleProof.verify on chain.
package merkle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrEmpty    = errors.New("merkle: no values")
	ErrNotFound = errors.New("merkle: address not in tree")
	ErrIndex    = errors.New("merkle: index out of range")
)

var leafArgs = func() abi.Arguments {
	addressTy, _ := abi.NewType("address", "", nil)
	uintTy, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{{Type: addressTy}, {Type: uintTy}}
}()

// Value is one (address, amount) claim. It marshals as the two element
// string array OpenZeppelin's tree dump uses.
type Value struct {
	Address common.Address
	Amount  *big.Int
}

func NewValue(address, amount string) (Value, error) {
	if !common.IsHexAddress(address) {
		return Value{}, fmt.Errorf("merkle: bad address %q", address)
	}
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok || n.Sign() < 0 {
		return Value{}, fmt.Errorf("merkle: bad amount %q", amount)
	}
	return Value{Address: common.HexToAddress(address), Amount: n}, nil
}

// Strings returns the lowercased address and the decimal amount.
func (v Value) Strings() []string {
	return []string{strings.ToLower(v.Address.Hex()), v.Amount.String()}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Strings())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("merkle: value must have 2 fields, got %d", len(pair))
	}
	parsed, err := NewValue(pair[0], pair[1])
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ValuesFromStrings parses the stored [][address, amount] form.
func ValuesFromStrings(rows [][]string) ([]Value, error) {
	out := make([]Value, 0, len(rows))
	for i, r := range rows {
		if len(r) != 2 {
			return nil, fmt.Errorf("merkle: row %d has %d fields", i, len(r))
		}
		v, err := NewValue(r[0], r[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// LeafHash is keccak256(keccak256(abi.encode(address, amount))).
func LeafHash(v Value) (common.Hash, error) {
	if v.Amount == nil {
		return common.Hash{}, fmt.Errorf("merkle: nil amount")
	}
	encoded, err := leafArgs.Pack(v.Address, v.Amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("merkle: encode leaf: %w", err)
	}
	return crypto.Keccak256Hash(crypto.Keccak256(encoded)), nil
}

func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

type Tree struct {
	nodes     []common.Hash
	values    []Value
	treeIndex []int // value index -> node index
}

// Of builds the tree. Leaves are sorted by hash, so the root does not depend
// on the order of values.
func Of(values []Value) (*Tree, error) {
	if len(values) == 0 {
		return nil, ErrEmpty
	}

	type leaf struct {
		hash  common.Hash
		value int
	}
	leaves := make([]leaf, len(values))
	for i, v := range values {
		h, err := LeafHash(v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		leaves[i] = leaf{hash: h, value: i}
	}
	sort.SliceStable(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i].hash[:], leaves[j].hash[:]) < 0
	})

	n := len(leaves)
	nodes := make([]common.Hash, 2*n-1)
	treeIndex := make([]int, n)
	for i, l := range leaves {
		pos := len(nodes) - 1 - i
		nodes[pos] = l.hash
		treeIndex[l.value] = pos
	}
	for i := len(nodes) - 1 - n; i >= 0; i-- {
		nodes[i] = hashPair(nodes[2*i+1], nodes[2*i+2])
	}

	vals := make([]Value, len(values))
	copy(vals, values)
	return &Tree{nodes: nodes, values: vals, treeIndex: treeIndex}, nil
}

func (t *Tree) Root() string {
	return t.nodes[0].Hex()
}

func (t *Tree) Len() int {
	return len(t.values)
}

// Entries returns the values in insertion order.
func (t *Tree) Entries() []Value {
	out := make([]Value, len(t.values))
	copy(out, t.values)
	return out
}

// Proof returns the sibling path of the i-th value, leaf to root.
func (t *Tree) Proof(i int) ([]string, error) {
	if i < 0 || i >= len(t.values) {
		return nil, ErrIndex
	}
	proof := []string{}
	for j := t.treeIndex[i]; j > 0; j = (j - 1) / 2 {
		sibling := j + 1
		if j%2 == 0 {
			sibling = j - 1
		}
		proof = append(proof, t.nodes[sibling].Hex())
	}
	return proof, nil
}

// Find looks an address up, ignoring case.
func (t *Tree) Find(address string) (int, Value, error) {
	if !common.IsHexAddress(address) {
		return -1, Value{}, ErrNotFound
	}
	target := common.HexToAddress(address)
	for i, v := range t.values {
		if v.Address == target {
			return i, v, nil
		}
	}
	return -1, Value{}, ErrNotFound
}

// Verify folds proof over the leaf of v and compares the result with root.
func Verify(root string, v Value, proof []string) bool {
	h, err := LeafHash(v)
	if err != nil {
		return false
	}
	for _, p := range proof {
		b, err := hexutil.Decode(p)
		if err != nil || len(b) != common.HashLength {
			return false
		}
		h = hashPair(h, common.BytesToHash(b))
	}
	return strings.EqualFold(h.Hex(), root)
}

package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// IdRegistryAddress is the Farcaster IdRegistry on OP Mainnet.
const IdRegistryAddress = "0x00000000Fc6c5F01Fc30151999387Bb99A9f489b"

const idRegistryABI = `[
	{
		"inputs": [{"internalType": "address", "name": "owner", "type": "address"}],
		"name": "idOf",
		"outputs": [{"internalType": "uint256", "name": "fid", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var idRegistry = mustParseABI(idRegistryABI)

// IdRegistry reads fid custody from the Farcaster IdRegistry.
type IdRegistry struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
}

// DialIdRegistry connects to an OP Mainnet endpoint. An empty address uses
// the canonical registry.
func DialIdRegistry(ctx context.Context, rpcURL, address string) (*IdRegistry, error) {
	if address == "" {
		address = IdRegistryAddress
	}
	if !common.IsHexAddress(address) {
		return nil, ErrBadContract
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return &IdRegistry{
		eth:      eth,
		contract: bind.NewBoundContract(common.HexToAddress(address), idRegistry, eth, eth, eth),
	}, nil
}

func (r *IdRegistry) Close() {
	r.eth.Close()
}

// IdOf returns the fid held by custody, or 0 when it holds none.
func (r *IdRegistry) IdOf(ctx context.Context, custody common.Address) (int64, error) {
	var out []interface{}
	if err := r.contract.Call(&bind.CallOpts{Context: ctx}, &out, "idOf", custody); err != nil {
		return 0, fmt.Errorf("idOf(%s): %w", custody.Hex(), err)
	}
	fid := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	if !fid.IsInt64() {
		return 0, fmt.Errorf("idOf(%s): fid %s out of range", custody.Hex(), fid)
	}
	return fid.Int64(), nil
}

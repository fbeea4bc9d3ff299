// Package chain talks to the tournament contract over JSON-RPC.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	ErrReadOnly    = errors.New("chain: no backend key configured")
	ErrNoEvent     = errors.New("chain: TournamentCreated not found in receipt")
	ErrTxReverted  = errors.New("chain: transaction reverted")
	ErrTxNotFound  = errors.New("chain: transaction not found")
	ErrBadAddress  = errors.New("chain: invalid address")
	ErrBadContract = errors.New("chain: contract address not configured")
)

var (
	parsedABI       = mustParseABI(TournamentABI)
	tournamentEvent = parsedABI.Events["TournamentCreated"]
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

type Config struct {
	RPCURL          string
	ContractAddress string
	PrivateKeyHex   string
	ChainID         int64
}

// Tournament mirrors the contract struct. Field names follow abigen so the
// tuple converts with abi.ConvertType.
type Tournament struct {
	Id             *big.Int
	TournamentType uint8
	Status         uint8
	BuyInToken     common.Address
	BuyInAmount    *big.Int
	PrizePool      *big.Int
	Creator        common.Address
	CreatedAt      *big.Int
	Winner         common.Address
	MerkleRoot     [32]byte
}

// TournamentView is Tournament with big numbers as decimal strings.
type TournamentView struct {
	ID             string `json:"id"`
	TournamentType uint8  `json:"tournamentType"`
	Status         uint8  `json:"status"`
	BuyInToken     string `json:"buyInToken"`
	BuyInAmount    string `json:"buyInAmount"`
	PrizePool      string `json:"prizePool"`
	Creator        string `json:"creator"`
	CreatedAt      string `json:"createdAt"`
	Winner         string `json:"winner"`
	MerkleRoot     string `json:"merkleRoot"`
}

func bigString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func (t *Tournament) View() TournamentView {
	return TournamentView{
		ID:             bigString(t.Id),
		TournamentType: t.TournamentType,
		Status:         t.Status,
		BuyInToken:     t.BuyInToken.Hex(),
		BuyInAmount:    bigString(t.BuyInAmount),
		PrizePool:      bigString(t.PrizePool),
		Creator:        t.Creator.Hex(),
		CreatedAt:      bigString(t.CreatedAt),
		Winner:         t.Winner.Hex(),
		MerkleRoot:     common.Hash(t.MerkleRoot).Hex(),
	}
}

type createdEvent struct {
	TournamentId   *big.Int
	TournamentType uint8
	Creator        common.Address
}

type Client struct {
	eth      *ethclient.Client
	contract *bind.BoundContract
	address  common.Address
	key      *ecdsa.PrivateKey
	chainID  *big.Int
}

// Dial connects to the RPC endpoint. Without a private key the client can
// only read.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, ErrBadContract
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	c := &Client{
		eth:     eth,
		address: common.HexToAddress(cfg.ContractAddress),
	}
	c.contract = bind.NewBoundContract(c.address, parsedABI, eth, eth, eth)

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
	} else {
		if c.chainID, err = eth.ChainID(ctx); err != nil {
			eth.Close()
			return nil, fmt.Errorf("chain id: %w", err)
		}
	}

	if cfg.PrivateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("backend key: %w", err)
		}
		c.key = key
	}
	return c, nil
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) Address() common.Address {
	return c.address
}

// Sender is the backend wallet, or the zero address for a read-only client.
func (c *Client) Sender() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// --- Reads ---

func (c *Client) GetTournament(ctx context.Context, id *big.Int) (*Tournament, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getTournament", id); err != nil {
		return nil, fmt.Errorf("getTournament(%s): %w", id, err)
	}
	t := *abi.ConvertType(out[0], new(Tournament)).(*Tournament)
	return &t, nil
}

func (c *Client) HasJoined(ctx context.Context, id *big.Int, player common.Address) (bool, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "hasJoined", id, player); err != nil {
		return false, fmt.Errorf("hasJoined(%s): %w", id, err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// TransactionSucceeded reports the receipt status of hash.
func (c *Client) TransactionSucceeded(ctx context.Context, hash common.Hash) (bool, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return false, ErrTxNotFound
	}
	if err != nil {
		return false, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
	}
	return receipt.Status == ethtypes.ReceiptStatusSuccessful, nil
}

// --- Writes ---

func (c *Client) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.key == nil {
		return nil, ErrReadOnly
	}
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

func (c *Client) send(ctx context.Context, method string, args ...interface{}) (*ethtypes.Receipt, error) {
	opts, err := c.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := c.contract.Transact(opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: wait %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("%s %s: %w", method, tx.Hash().Hex(), ErrTxReverted)
	}
	return receipt, nil
}

func (c *Client) create(ctx context.Context, method string, token common.Address, amount *big.Int) (common.Hash, *big.Int, error) {
	receipt, err := c.send(ctx, method, token, amount)
	if err != nil {
		return common.Hash{}, nil, err
	}
	for _, l := range receipt.Logs {
		if l.Address != c.address || len(l.Topics) == 0 || l.Topics[0] != tournamentEvent.ID {
			continue
		}
		var ev createdEvent
		if err := c.contract.UnpackLog(&ev, "TournamentCreated", *l); err != nil {
			return receipt.TxHash, nil, fmt.Errorf("decode TournamentCreated: %w", err)
		}
		return receipt.TxHash, ev.TournamentId, nil
	}
	return receipt.TxHash, nil, ErrNoEvent
}

// CreateGlobalTournament opens a daily tournament and returns the tx hash
// and the id the contract assigned.
func (c *Client) CreateGlobalTournament(ctx context.Context, token common.Address, buyIn *big.Int) (common.Hash, *big.Int, error) {
	return c.create(ctx, "createGlobalTournament", token, buyIn)
}

func (c *Client) CreateGroupTournament(ctx context.Context, token common.Address, buyIn *big.Int) (common.Hash, *big.Int, error) {
	return c.create(ctx, "createGroupTournament", token, buyIn)
}

func (c *Client) SetMerkleRoot(ctx context.Context, id *big.Int, root common.Hash) (common.Hash, error) {
	receipt, err := c.send(ctx, "setMerkleRoot", id, [32]byte(root))
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// --- Calldata ---

// EncodeJoinTournament builds joinTournament(id, player) calldata for
// payment flows that call the contract on the player's behalf.
func EncodeJoinTournament(id *big.Int, player string) ([]byte, error) {
	if !common.IsHexAddress(player) {
		return nil, ErrBadAddress
	}
	return parsedABI.Pack("joinTournament", id, common.HexToAddress(player))
}

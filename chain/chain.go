// Package chain binds the node to the blockchain provider and the event contract.
package chain

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"eventnode/datamodel/event"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	log "github.com/sirupsen/logrus"
)

const (
	EventSpend = "Spend"
	EventSent  = "Sent"
)

// DefaultABI describes the events emitted by the contract.
const DefaultABI = `[
  {"type": "event", "name": "Spend", "anonymous": false, "inputs": [
    {"name": "nullifier", "type": "uint256", "indexed": false}
  ]},
  {"type": "event", "name": "Sent", "anonymous": false, "inputs": [
    {"name": "index", "type": "uint256", "indexed": false},
    {"name": "commitment", "type": "uint256", "indexed": false},
    {"name": "timestamp", "type": "uint256", "indexed": false},
    {"name": "hint_amount", "type": "uint256", "indexed": false},
    {"name": "hint_token_address", "type": "uint256", "indexed": false}
  ]}
]`

// EventQuerier is the provider capability the node needs: the chain head and
// the contract events of each kind within an inclusive block range.
type EventQuerier interface {
	BlockNumber(ctx context.Context) (uint64, error)
	QuerySpend(ctx context.Context, from, to uint64) ([]event.SpendEvent, error)
	QuerySent(ctx context.Context, from, to uint64) ([]event.SentEvent, error)
}

// Backend is the subset of ethclient.Client used by Contract.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

var _ EventQuerier = (*Contract)(nil)

type Contract struct {
	address common.Address
	abi     abi.ABI
	backend Backend
	close   func()
}

// NewContract binds the contract at address, served by backend, using the ABI read from abiJSON.
func NewContract(backend Backend, address common.Address, abiJSON io.Reader) (*Contract, error) {
	parsed, err := abi.JSON(abiJSON)
	if err != nil {
		return nil, fmt.Errorf("parsing contract ABI: %w", err)
	}
	for _, name := range []string{EventSpend, EventSent} {
		if _, ok := parsed.Events[name]; !ok {
			return nil, fmt.Errorf("contract ABI lacks event %s", name)
		}
	}
	return &Contract{
		address: address,
		abi:     parsed,
		backend: backend,
	}, nil
}

// Dial connects to the JSON-RPC provider at providerURL and binds the contract.
// An empty abiPath selects DefaultABI.
func Dial(ctx context.Context, providerURL, contractAddress, abiPath string) (*Contract, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddress)
	}

	var abiJSON io.Reader = strings.NewReader(DefaultABI)
	if abiPath != "" {
		f, err := os.Open(abiPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		abiJSON = f
	}

	client, err := ethclient.DialContext(ctx, providerURL)
	if err != nil {
		return nil, fmt.Errorf("dial provider: %w", err)
	}

	c, err := NewContract(client, common.HexToAddress(contractAddress), abiJSON)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.close = client.Close

	log.Infof("Bound contract %s at %s", c.address.Hex(), providerURL)
	return c, nil
}

func (c *Contract) Close() {
	if c.close != nil {
		c.close()
	}
}

func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) BlockNumber(ctx context.Context) (uint64, error) {
	return c.backend.BlockNumber(ctx)
}

func (c *Contract) QuerySpend(ctx context.Context, from, to uint64) ([]event.SpendEvent, error) {
	logs, err := c.filter(ctx, EventSpend, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]event.SpendEvent, 0, len(logs))
	for _, lg := range logs {
		fields, err := c.unpack(EventSpend, lg)
		if err != nil {
			return nil, err
		}
		events = append(events, event.SpendEvent{
			Position:  position(lg),
			Nullifier: fields["nullifier"],
		})
	}
	return events, nil
}

func (c *Contract) QuerySent(ctx context.Context, from, to uint64) ([]event.SentEvent, error) {
	logs, err := c.filter(ctx, EventSent, from, to)
	if err != nil {
		return nil, err
	}

	events := make([]event.SentEvent, 0, len(logs))
	for _, lg := range logs {
		fields, err := c.unpack(EventSent, lg)
		if err != nil {
			return nil, err
		}
		events = append(events, event.SentEvent{
			Position:         position(lg),
			Index:            fields["index"],
			Commitment:       fields["commitment"],
			Timestamp:        fields["timestamp"],
			HintAmount:       fields["hint_amount"],
			HintTokenAddress: fields["hint_token_address"],
		})
	}
	return events, nil
}

func (c *Contract) filter(ctx context.Context, name string, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.address},
		Topics:    [][]common.Hash{{c.abi.Events[name].ID}},
	}

	logs, err := c.backend.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter %s logs [%d, %d]: %w", name, from, to, err)
	}

	kept := logs[:0]
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		kept = append(kept, lg)
	}
	return kept, nil
}

// unpack decodes the uint256 fields of a log into a map keyed by ABI argument name.
func (c *Contract) unpack(name string, lg types.Log) (map[string]*big.Int, error) {
	raw := map[string]interface{}{}
	if err := c.abi.UnpackIntoMap(raw, name, lg.Data); err != nil {
		return nil, fmt.Errorf("decode %s log %s/%d: %w", name, lg.TxHash.Hex(), lg.Index, err)
	}

	fields := make(map[string]*big.Int, len(raw))
	for k, v := range raw {
		n, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("decode %s log: field %s is %T, want uint256", name, k, v)
		}
		fields[k] = n
	}
	return fields, nil
}

func position(lg types.Log) event.Position {
	return event.Position{
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
	}
}

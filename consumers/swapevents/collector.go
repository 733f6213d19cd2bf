// Package swapevents collects Uniswap V3 swaps from verified EVM
// transactions.
package swapevents

import (
	"math/big"
	"strings"
	"sync"

	gethAbi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/trufnetwork/fdc-relay/attestation/decoder"
	"github.com/trufnetwork/fdc-relay/consumers"
)

const name = "swapevents"

const poolABI = `[{"anonymous":false,"name":"Swap","type":"event","inputs":[
	{"indexed":true,"name":"sender","type":"address"},
	{"indexed":true,"name":"recipient","type":"address"},
	{"indexed":false,"name":"amount0","type":"int256"},
	{"indexed":false,"name":"amount1","type":"int256"},
	{"indexed":false,"name":"sqrtPriceX96","type":"uint160"},
	{"indexed":false,"name":"liquidity","type":"uint128"},
	{"indexed":false,"name":"tick","type":"int24"}]}]`

var swapEvent gethAbi.Event

func init() {
	parsed, err := gethAbi.JSON(strings.NewReader(poolABI))
	if err != nil {
		panic(err)
	}
	swapEvent = parsed.Events["Swap"]
}

// SwapTopic is the first topic of every Swap log.
func SwapTopic() common.Hash { return swapEvent.ID }

// SwapEvent is one decoded Swap log.
type SwapEvent struct {
	TxHash       common.Hash
	LogIndex     uint32
	BlockNumber  uint64
	Timestamp    uint64
	Pool         common.Address
	Sender       common.Address
	Recipient    common.Address
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int64
}

type swapData struct {
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         *big.Int
}

// Collector accumulates swaps. A transaction is collected at most once.
// When Pool is set, swaps emitted by other contracts are ignored.
type Collector struct {
	Pool common.Address

	mu     sync.Mutex
	seen   map[common.Hash]struct{}
	events []SwapEvent
}

func NewCollector(pool common.Address) *Collector {
	return &Collector{Pool: pool, seen: make(map[common.Hash]struct{})}
}

// Collect decodes the swaps in a verified transaction and appends them.
func (c *Collector) Collect(p *decoder.EVMTransactionPayload) ([]SwapEvent, error) {
	if p == nil {
		return nil, consumers.Violate(name, "missing transaction", "")
	}
	tx := common.Hash(p.RequestBody.TransactionHash)
	if !p.Succeeded() {
		return nil, consumers.Violate(name, "transaction reverted", "%s", tx)
	}

	var found []SwapEvent
	for _, ev := range p.ResponseBody.Events {
		if ev.Removed || len(ev.Topics) != 3 || common.Hash(ev.Topics[0]) != swapEvent.ID {
			continue
		}
		if c.Pool != (common.Address{}) && ev.EmitterAddress != c.Pool {
			continue
		}
		data, err := unpackSwap(ev.Data)
		if err != nil {
			return nil, consumers.Violate(name, "malformed swap log", "log %d: %v", ev.LogIndex, err)
		}
		found = append(found, SwapEvent{
			TxHash:       tx,
			LogIndex:     ev.LogIndex,
			BlockNumber:  p.ResponseBody.BlockNumber,
			Timestamp:    p.ResponseBody.Timestamp,
			Pool:         ev.EmitterAddress,
			Sender:       common.BytesToAddress(ev.Topics[1][:]),
			Recipient:    common.BytesToAddress(ev.Topics[2][:]),
			Amount0:      data.Amount0,
			Amount1:      data.Amount1,
			SqrtPriceX96: data.SqrtPriceX96,
			Liquidity:    data.Liquidity,
			Tick:         data.Tick.Int64(),
		})
	}
	if len(found) == 0 {
		return nil, consumers.Violate(name, "no swaps in transaction", "%s", tx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[tx]; ok {
		return nil, consumers.Violate(name, "transaction already collected", "%s", tx)
	}
	c.seen[tx] = struct{}{}
	c.events = append(c.events, found...)
	return found, nil
}

func unpackSwap(raw []byte) (swapData, error) {
	var data swapData
	args := swapEvent.Inputs.NonIndexed()
	values, err := args.Unpack(raw)
	if err != nil {
		return data, err
	}
	err = args.Copy(&data, values)
	return data, err
}

// Events returns every collected swap in collection order.
func (c *Collector) Events() []SwapEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SwapEvent(nil), c.events...)
}

package calldata

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/p3dex/pkg/types"
)

// Event decoding works off a registry keyed by topic-0. Each decoder owns
// its fixed field layout: indexed addresses come from topics (32-byte words
// with 12 leading zero bytes stripped), unindexed values from 32-byte data
// words extracted with bounds checks. A receipt without a matching log is a
// normal outcome and yields nil, not an error.

// logWords is a bounds-checked view over a log's data payload.
type logWords struct {
	data []byte
}

func newLogWords(dataHex string) (*logWords, error) {
	b, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("decode log data: %w", err)
	}
	if len(b)%wordSize != 0 {
		return nil, fmt.Errorf("log data length %d is not word-aligned", len(b))
	}
	return &logWords{data: b}, nil
}

func (w *logWords) uint(i int) (*big.Int, error) {
	off := i * wordSize
	if off+wordSize > len(w.data) {
		return nil, fmt.Errorf("log data word %d out of range (len %d)", i, len(w.data))
	}
	return new(big.Int).SetBytes(w.data[off : off+wordSize]), nil
}

func (w *logWords) address(i int) (common.Address, error) {
	v, err := w.uint(i)
	if err != nil {
		return common.Address{}, err
	}
	var word [wordSize]byte
	v.FillBytes(word[:])
	return common.BytesToAddress(word[wordSize-common.AddressLength:]), nil
}

// topicAddress extracts an address from an indexed topic, stripping the
// 12-byte zero padding.
func topicAddress(topic string) (common.Address, error) {
	b, err := hexutil.Decode(topic)
	if err != nil || len(b) != wordSize {
		return common.Address{}, fmt.Errorf("malformed topic %q", topic)
	}
	return common.BytesToAddress(b[wordSize-common.AddressLength:]), nil
}

func topicMatches(log types.Log, topic0 common.Hash) bool {
	return len(log.Topics) > 0 && common.HexToHash(log.Topics[0]) == topic0
}

// ParseSwapEvent decodes the first Swap log in a receipt's logs, or returns
// nil when none is present.
func ParseSwapEvent(logs []types.Log) (*types.SwapEvent, error) {
	for _, l := range logs {
		if !topicMatches(l, topicSwap) {
			continue
		}
		if len(l.Topics) < 3 {
			return nil, fmt.Errorf("swap log has %d topics, want 3", len(l.Topics))
		}
		sender, err := topicAddress(l.Topics[1])
		if err != nil {
			return nil, err
		}
		to, err := topicAddress(l.Topics[2])
		if err != nil {
			return nil, err
		}
		w, err := newLogWords(l.Data)
		if err != nil {
			return nil, err
		}
		var amounts [4]*big.Int
		for i := range amounts {
			if amounts[i], err = w.uint(i); err != nil {
				return nil, err
			}
		}
		return &types.SwapEvent{
			Sender:     sender,
			Recipient:  to,
			Amount0In:  amounts[0].String(),
			Amount1In:  amounts[1].String(),
			Amount0Out: amounts[2].String(),
			Amount1Out: amounts[3].String(),
		}, nil
	}
	return nil, nil
}

// ParseLiquidityEvent decodes the first Mint or Burn log, or returns nil
// when neither is present.
func ParseLiquidityEvent(logs []types.Log) (*types.LiquidityEvent, error) {
	for _, l := range logs {
		switch {
		case topicMatches(l, topicMint):
			if len(l.Topics) < 2 {
				return nil, fmt.Errorf("mint log has %d topics, want 2", len(l.Topics))
			}
			sender, err := topicAddress(l.Topics[1])
			if err != nil {
				return nil, err
			}
			w, err := newLogWords(l.Data)
			if err != nil {
				return nil, err
			}
			a0, err := w.uint(0)
			if err != nil {
				return nil, err
			}
			a1, err := w.uint(1)
			if err != nil {
				return nil, err
			}
			return &types.LiquidityEvent{
				Sender:  sender,
				Amount0: a0.String(),
				Amount1: a1.String(),
			}, nil

		case topicMatches(l, topicBurn):
			if len(l.Topics) < 3 {
				return nil, fmt.Errorf("burn log has %d topics, want 3", len(l.Topics))
			}
			sender, err := topicAddress(l.Topics[1])
			if err != nil {
				return nil, err
			}
			to, err := topicAddress(l.Topics[2])
			if err != nil {
				return nil, err
			}
			w, err := newLogWords(l.Data)
			if err != nil {
				return nil, err
			}
			a0, err := w.uint(0)
			if err != nil {
				return nil, err
			}
			a1, err := w.uint(1)
			if err != nil {
				return nil, err
			}
			return &types.LiquidityEvent{
				Sender:  sender,
				Amount0: a0.String(),
				Amount1: a1.String(),
				To:      to,
				Burned:  true,
			}, nil
		}
	}
	return nil, nil
}

// ParsePairCreatedEvent decodes the first PairCreated log, or returns nil
// when none is present.
func ParsePairCreatedEvent(logs []types.Log) (*types.PairCreatedEvent, error) {
	for _, l := range logs {
		if !topicMatches(l, topicPairCreated) {
			continue
		}
		if len(l.Topics) < 3 {
			return nil, fmt.Errorf("pairCreated log has %d topics, want 3", len(l.Topics))
		}
		token0, err := topicAddress(l.Topics[1])
		if err != nil {
			return nil, err
		}
		token1, err := topicAddress(l.Topics[2])
		if err != nil {
			return nil, err
		}
		w, err := newLogWords(l.Data)
		if err != nil {
			return nil, err
		}
		pair, err := w.address(0)
		if err != nil {
			return nil, err
		}
		index, err := w.uint(1)
		if err != nil {
			return nil, err
		}
		return &types.PairCreatedEvent{
			Token0: token0,
			Token1: token1,
			Pair:   pair,
			Index:  index.String(),
		}, nil
	}
	return nil, nil
}

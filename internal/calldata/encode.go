// Package calldata builds ABI-encoded calls for the swap precompile and
// decodes its emitted events. All builders are pure functions; amounts are
// decimal-string uint256 values and are never routed through floats.
package calldata

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/p3dex/internal/assetaddr"
	"github.com/gateway-fm/p3dex/pkg/types"
)

const wordSize = 32

// ErrInvalidAmount is returned for amounts that are not non-negative
// 256-bit decimal integers.
var ErrInvalidAmount = errors.New("invalid amount")

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// parseAmount parses a decimal-string amount into a uint256.
func parseAmount(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidAmount, field, s)
	}
	if v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%w: %s %q out of uint256 range", ErrInvalidAmount, field, s)
	}
	return v, nil
}

// parseRecipient resolves an optional recipient. Empty means the zero
// address, which the precompile reads as "use sender".
func parseRecipient(s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: recipient %q", assetaddr.ErrMalformedAddress, s)
	}
	return common.HexToAddress(s), nil
}

// call assembles selector plus 32-byte argument words.
type call struct {
	data []byte
}

func newCall(selector []byte, words int) *call {
	return &call{data: append(make([]byte, 0, 4+words*wordSize), selector...)}
}

func (c *call) addUint(v *big.Int) {
	var word [wordSize]byte
	v.FillBytes(word[:])
	c.data = append(c.data, word[:]...)
}

func (c *call) addUint64(v uint64) {
	c.addUint(new(big.Int).SetUint64(v))
}

func (c *call) addAddress(a common.Address) {
	var word [wordSize]byte
	copy(word[wordSize-common.AddressLength:], a[:])
	c.data = append(c.data, word[:]...)
}

// SwapExactIn encodes swapExactTokensForTokens. The path is always the
// two-element [assetIn, assetOut]; multi-hop routing is not supported.
func SwapExactIn(p types.SwapParams) ([]byte, error) {
	amountIn, err := parseAmount(p.AmountIn, "amountIn")
	if err != nil {
		return nil, err
	}
	amountOutMin, err := parseAmount(p.AmountOutMin, "amountOutMin")
	if err != nil {
		return nil, err
	}
	return encodeSwap(selectorSwapExactIn, amountIn, amountOutMin, p)
}

// SwapExactOut encodes swapTokensForExactTokens.
func SwapExactOut(p types.SwapParams) ([]byte, error) {
	amountOut, err := parseAmount(p.AmountOut, "amountOut")
	if err != nil {
		return nil, err
	}
	amountInMax, err := parseAmount(p.AmountInMax, "amountInMax")
	if err != nil {
		return nil, err
	}
	return encodeSwap(selectorSwapExactOut, amountOut, amountInMax, p)
}

func encodeSwap(selector []byte, first, second *big.Int, p types.SwapParams) ([]byte, error) {
	to, err := parseRecipient(p.Recipient)
	if err != nil {
		return nil, err
	}
	if p.DeadlineMS < 0 {
		return nil, fmt.Errorf("%w: deadline %d", ErrInvalidAmount, p.DeadlineMS)
	}

	in := common.HexToAddress(assetaddr.AssetAddress(p.AssetIn))
	out := common.HexToAddress(assetaddr.AssetAddress(p.AssetOut))

	// Head: amount, amount, path offset, to, deadline.
	// Tail: path length plus the two hops.
	c := newCall(selector, 8)
	c.addUint(first)
	c.addUint(second)
	c.addUint64(5 * wordSize)
	c.addAddress(to)
	c.addUint64(uint64(p.DeadlineMS))
	c.addUint64(2)
	c.addAddress(in)
	c.addAddress(out)
	return c.data, nil
}

// AddLiquidity encodes the addLiquidity precompile call.
func AddLiquidity(p types.AddLiquidityParams) ([]byte, error) {
	a1d, err := parseAmount(p.Amount1Desired, "amount1Desired")
	if err != nil {
		return nil, err
	}
	a2d, err := parseAmount(p.Amount2Desired, "amount2Desired")
	if err != nil {
		return nil, err
	}
	a1m, err := parseAmount(p.Amount1Min, "amount1Min")
	if err != nil {
		return nil, err
	}
	a2m, err := parseAmount(p.Amount2Min, "amount2Min")
	if err != nil {
		return nil, err
	}
	mintTo, err := parseRecipient(p.MintTo)
	if err != nil {
		return nil, err
	}

	c := newCall(selectorAddLiquidity, 7)
	c.addAddress(common.HexToAddress(assetaddr.AssetAddress(p.Asset1)))
	c.addAddress(common.HexToAddress(assetaddr.AssetAddress(p.Asset2)))
	c.addUint(a1d)
	c.addUint(a2d)
	c.addUint(a1m)
	c.addUint(a2m)
	c.addAddress(mintTo)
	return c.data, nil
}

// RemoveLiquidity encodes the removeLiquidity precompile call.
func RemoveLiquidity(p types.RemoveLiquidityParams) ([]byte, error) {
	burn, err := parseAmount(p.LPBurn, "lpBurn")
	if err != nil {
		return nil, err
	}
	a1m, err := parseAmount(p.Amount1Min, "amount1Min")
	if err != nil {
		return nil, err
	}
	a2m, err := parseAmount(p.Amount2Min, "amount2Min")
	if err != nil {
		return nil, err
	}
	withdrawTo, err := parseRecipient(p.WithdrawTo)
	if err != nil {
		return nil, err
	}

	c := newCall(selectorRemoveLiquidity, 6)
	c.addAddress(common.HexToAddress(assetaddr.AssetAddress(p.Asset1)))
	c.addAddress(common.HexToAddress(assetaddr.AssetAddress(p.Asset2)))
	c.addUint(burn)
	c.addUint(a1m)
	c.addUint(a2m)
	c.addAddress(withdrawTo)
	return c.data, nil
}

// CreatePair encodes the createPair factory call.
func CreatePair(p types.CreatePoolParams) ([]byte, error) {
	c := newCall(selectorCreatePair, 2)
	c.addAddress(common.HexToAddress(assetaddr.AssetAddress(p.Asset1)))
	c.addAddress(common.HexToAddress(assetaddr.AssetAddress(p.Asset2)))
	return c.data, nil
}

// GetPair encodes the getPair existence query.
func GetPair(asset1, asset2 types.AssetID) []byte {
	c := newCall(selectorGetPair, 2)
	c.addAddress(common.HexToAddress(assetaddr.AssetAddress(asset1)))
	c.addAddress(common.HexToAddress(assetaddr.AssetAddress(asset2)))
	return c.data
}

// AllPairsLength encodes the factory enumeration length query.
func AllPairsLength() []byte {
	return append([]byte(nil), selectorAllPairsLength...)
}

// AllPairs encodes the factory enumeration query for index i.
func AllPairs(i uint64) []byte {
	c := newCall(selectorAllPairs, 1)
	c.addUint64(i)
	return c.data
}

// BalanceOf encodes the ERC-20 balanceOf query against an asset precompile.
func BalanceOf(owner common.Address) []byte {
	c := newCall(selectorBalanceOf, 1)
	c.addAddress(owner)
	return c.data
}

// DecodeUintResult decodes a single uint256 return word.
func DecodeUintResult(data []byte) (*big.Int, error) {
	if len(data) < wordSize {
		return nil, fmt.Errorf("return data too short: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[:wordSize]), nil
}

// DecodeAddressResult decodes a single address return word.
func DecodeAddressResult(data []byte) (common.Address, error) {
	if len(data) < wordSize {
		return common.Address{}, fmt.Errorf("return data too short: %d bytes", len(data))
	}
	return common.BytesToAddress(data[wordSize-common.AddressLength : wordSize]), nil
}

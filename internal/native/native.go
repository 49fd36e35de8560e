// Package native drives pool operations through the Substrate extrinsic
// path. The chain API client is an external collaborator consumed through
// narrow interfaces: submit a signed extrinsic, query its fee, and stream
// its status transitions.
package native

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/gateway-fm/p3dex/pkg/types"
)

// Call is one assetConversion pallet call, ready for signing. Asset
// arguments stay as native asset ids; no EVM address translation happens on
// this path.
type Call struct {
	Pallet string
	Method string
	Args   []interface{}
}

// StatusKind is one extrinsic status transition.
type StatusKind string

const (
	StatusReady     StatusKind = "ready"
	StatusBroadcast StatusKind = "broadcast"
	StatusInBlock   StatusKind = "inBlock"
	StatusFinalized StatusKind = "finalized"
	StatusDropped   StatusKind = "dropped"
	StatusInvalid   StatusKind = "invalid"
)

// StatusEvent is one callback from the submitted extrinsic. Exactly one
// machine transition happens per event.
type StatusEvent struct {
	Kind      StatusKind
	BlockHash string
	// Dispatch carries the decoded module error when the extrinsic was
	// included but its dispatch failed.
	Dispatch *DispatchError
}

// DispatchError identifies a pallet error by its metadata indices.
type DispatchError struct {
	PalletIndex uint8
	ErrorIndex  uint8
	// Other holds the raw error text for non-module dispatch errors.
	Other string
}

// FeeInfo is the pre-dispatch payment info for an extrinsic.
type FeeInfo struct {
	PartialFee *big.Int
	Weight     uint64
}

// Submitter signs and submits extrinsics. Implementations wrap the real
// chain API client.
type Submitter interface {
	// SignAndSubmit submits the call and returns its status stream. The
	// channel closes after a terminal status (finalized, dropped, invalid)
	// or when the submission is abandoned.
	SignAndSubmit(ctx context.Context, call Call) (<-chan StatusEvent, error)

	// PaymentInfo returns the estimated fee for the call.
	PaymentInfo(ctx context.Context, call Call) (*FeeInfo, error)
}

const palletAssetConversion = "assetConversion"

// CreatePoolCall builds the assetConversion.createPool extrinsic.
func CreatePoolCall(p types.CreatePoolParams) Call {
	return Call{
		Pallet: palletAssetConversion,
		Method: "createPool",
		Args:   []interface{}{p.Asset1, p.Asset2},
	}
}

// AddLiquidityCall builds the assetConversion.addLiquidity extrinsic.
func AddLiquidityCall(p types.AddLiquidityParams) Call {
	return Call{
		Pallet: palletAssetConversion,
		Method: "addLiquidity",
		Args: []interface{}{
			p.Asset1, p.Asset2,
			p.Amount1Desired, p.Amount2Desired,
			p.Amount1Min, p.Amount2Min,
			p.MintTo,
		},
	}
}

// RemoveLiquidityCall builds the assetConversion.removeLiquidity extrinsic.
func RemoveLiquidityCall(p types.RemoveLiquidityParams) Call {
	return Call{
		Pallet: palletAssetConversion,
		Method: "removeLiquidity",
		Args: []interface{}{
			p.Asset1, p.Asset2,
			p.LPBurn,
			p.Amount1Min, p.Amount2Min,
			p.WithdrawTo,
		},
	}
}

// SwapCall builds the exact-in or exact-out swap extrinsic. The path is the
// fixed two-hop [assetIn, assetOut].
func SwapCall(p types.SwapParams, exactIn bool) Call {
	if exactIn {
		return Call{
			Pallet: palletAssetConversion,
			Method: "swapExactTokensForTokens",
			Args: []interface{}{
				[]types.AssetID{p.AssetIn, p.AssetOut},
				p.AmountIn, p.AmountOutMin,
				p.Recipient,
				true, // keepAlive
			},
		}
	}
	return Call{
		Pallet: palletAssetConversion,
		Method: "swapTokensForExactTokens",
		Args: []interface{}{
			[]types.AssetID{p.AssetIn, p.AssetOut},
			p.AmountOut, p.AmountInMax,
			p.Recipient,
			true,
		},
	}
}

// ErrorDoc is one pallet error's metadata entry.
type ErrorDoc struct {
	Name string
	Docs string
}

// ErrorRegistry decodes module errors into their metadata docs. It is
// populated once from chain metadata at startup.
type ErrorRegistry struct {
	modules map[uint8]map[uint8]ErrorDoc
}

// NewErrorRegistry creates an empty registry.
func NewErrorRegistry() *ErrorRegistry {
	return &ErrorRegistry{modules: make(map[uint8]map[uint8]ErrorDoc)}
}

// Register adds one pallet's error table.
func (r *ErrorRegistry) Register(palletIndex uint8, errs map[uint8]ErrorDoc) {
	r.modules[palletIndex] = errs
}

// Describe renders a dispatch error as human-readable text. Unknown indices
// degrade to a generic message with the raw indices; description failure
// never masks the underlying failure.
func (r *ErrorRegistry) Describe(e *DispatchError) string {
	if e == nil {
		return "dispatch failed"
	}
	if e.Other != "" {
		return e.Other
	}
	if r != nil {
		if errs, ok := r.modules[e.PalletIndex]; ok {
			if doc, ok := errs[e.ErrorIndex]; ok {
				if doc.Docs != "" {
					return fmt.Sprintf("%s: %s", doc.Name, strings.TrimSpace(doc.Docs))
				}
				return doc.Name
			}
		}
	}
	return fmt.Sprintf("dispatch failed (module %d, error %d)", e.PalletIndex, e.ErrorIndex)
}

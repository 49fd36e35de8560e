// Package mcp exposes the DEX core over the MCP stdio transport so agent
// tooling can inspect addresses, calldata, fees, and operation history.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/p3dex/internal/assetaddr"
	"github.com/gateway-fm/p3dex/internal/blocktime"
	"github.com/gateway-fm/p3dex/internal/calldata"
	"github.com/gateway-fm/p3dex/internal/gas"
	"github.com/gateway-fm/p3dex/internal/rpc"
	"github.com/gateway-fm/p3dex/internal/store"
	"github.com/gateway-fm/p3dex/pkg/types"
)

// Deps are the DEX components the tools read from. Unlike the operation
// machines, every tool here is read-only.
type Deps struct {
	Store          *store.Store
	BlockTime      *blocktime.Estimator
	Gas            *gas.Estimator
	PrecompileAddr string
}

// RegisterTools registers all DEX tools on the MCP server.
func RegisterTools(s *server.MCPServer, deps Deps) {
	registerAssetAddress(s)
	registerAssetID(s)
	registerSwapCalldata(s)
	registerLiquidityCalldata(s)
	registerBlockTime(s, deps)
	registerGasQuote(s, deps)
	registerHistory(s, deps)
	registerOperation(s, deps)
}

func registerAssetAddress(s *server.MCPServer) {
	tool := gomcp.NewTool("dex_asset_address",
		gomcp.WithDescription("Convert a native asset id to its synthetic EVM addresses (asset contract and LP token). Asset id 0 is the chain's native token."),
		gomcp.WithString("asset_id",
			gomcp.Required(),
			gomcp.Description("Decimal asset id, e.g. \"222\""),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		raw, err := req.RequireString("asset_id")
		if err != nil {
			return gomcp.NewToolResultError("asset_id is required"), nil
		}
		id, err := assetaddr.ParseAssetID(raw)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Invalid asset id: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Asset Addresses"),
			kv("Asset ID", raw),
			kv("Asset Address", assetaddr.AssetAddress(id)),
			kv("LP Token Address", assetaddr.LPAssetAddress(id)),
		)), nil
	})
}

func registerAssetID(s *server.MCPServer) {
	tool := gomcp.NewTool("dex_asset_id",
		gomcp.WithDescription("Decode a synthetic EVM address back to its native asset id and classify its family (asset vs liquidity-pool token)."),
		gomcp.WithString("address",
			gomcp.Required(),
			gomcp.Description("20-byte hex address, 0x-prefixed"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		addr, err := req.RequireString("address")
		if err != nil {
			return gomcp.NewToolResultError("address is required"), nil
		}
		id, err := assetaddr.AssetID(addr)
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Cannot decode address: %v", err)), nil
		}
		checksummed, _ := assetaddr.Checksum(addr)
		return gomcp.NewToolResultText(joinLines(
			section("Asset Identity"),
			kv("Address", checksummed),
			kv("Family", assetaddr.Classify(addr).String()),
			kv("Asset ID", formatNumber(uint64(id))),
		)), nil
	})
}

func registerSwapCalldata(s *server.MCPServer) {
	tool := gomcp.NewTool("dex_swap_calldata",
		gomcp.WithDescription("Build precompile calldata for a swap. Amounts are decimal integer strings in the asset's base units."),
		gomcp.WithString("asset_in", gomcp.Required(), gomcp.Description("Input asset id")),
		gomcp.WithString("asset_out", gomcp.Required(), gomcp.Description("Output asset id")),
		gomcp.WithString("amount_in", gomcp.Description("Exact input amount (exact-in mode)")),
		gomcp.WithString("amount_out_min", gomcp.Description("Minimum acceptable output (exact-in mode)")),
		gomcp.WithString("amount_out", gomcp.Description("Exact output amount (exact-out mode)")),
		gomcp.WithString("amount_in_max", gomcp.Description("Maximum spendable input (exact-out mode)")),
		gomcp.WithString("recipient", gomcp.Description("Recipient address (defaults to sender)")),
		gomcp.WithNumber("deadline_ms", gomcp.Description("UNIX millisecond deadline")),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		assetIn, err := parseAssetArg(req, "asset_in")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		assetOut, err := parseAssetArg(req, "asset_out")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		p := types.SwapParams{
			AssetIn:      assetIn,
			AssetOut:     assetOut,
			AmountIn:     req.GetString("amount_in", ""),
			AmountOutMin: req.GetString("amount_out_min", ""),
			AmountOut:    req.GetString("amount_out", ""),
			AmountInMax:  req.GetString("amount_in_max", ""),
			Recipient:    req.GetString("recipient", ""),
			DeadlineMS:   int64(req.GetInt("deadline_ms", 0)),
		}

		var data []byte
		mode := "exact-in"
		if p.AmountIn != "" {
			data, err = calldata.SwapExactIn(p)
		} else if p.AmountOut != "" {
			mode = "exact-out"
			data, err = calldata.SwapExactOut(p)
		} else {
			return gomcp.NewToolResultError("either amount_in or amount_out is required"), nil
		}
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Encoding failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Swap Calldata"),
			kv("Mode", mode),
			kv("Bytes", formatNumber(len(data))),
			"0x"+common.Bytes2Hex(data),
		)), nil
	})
}

func registerLiquidityCalldata(s *server.MCPServer) {
	tool := gomcp.NewTool("dex_liquidity_calldata",
		gomcp.WithDescription("Build precompile calldata for a liquidity operation: add, remove, or create-pool."),
		gomcp.WithString("action",
			gomcp.Required(),
			gomcp.Description("One of: add, remove, create"),
		),
		gomcp.WithString("asset_1", gomcp.Required(), gomcp.Description("First pool asset id")),
		gomcp.WithString("asset_2", gomcp.Required(), gomcp.Description("Second pool asset id")),
		gomcp.WithString("amount_1", gomcp.Description("Desired amount of asset 1 (add)")),
		gomcp.WithString("amount_2", gomcp.Description("Desired amount of asset 2 (add)")),
		gomcp.WithString("amount_1_min", gomcp.Description("Minimum amount of asset 1 (add/remove)")),
		gomcp.WithString("amount_2_min", gomcp.Description("Minimum amount of asset 2 (add/remove)")),
		gomcp.WithString("lp_burn", gomcp.Description("LP token amount to burn (remove)")),
		gomcp.WithString("to", gomcp.Description("Mint/withdraw target address")),
		gomcp.WithNumber("deadline_ms", gomcp.Description("UNIX millisecond deadline (remove only)")),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		action, err := req.RequireString("action")
		if err != nil {
			return gomcp.NewToolResultError("action is required"), nil
		}
		asset1, err := parseAssetArg(req, "asset_1")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}
		asset2, err := parseAssetArg(req, "asset_2")
		if err != nil {
			return gomcp.NewToolResultError(err.Error()), nil
		}

		var data []byte
		switch strings.ToLower(action) {
		case "add":
			data, err = calldata.AddLiquidity(types.AddLiquidityParams{
				Asset1:         asset1,
				Asset2:         asset2,
				Amount1Desired: req.GetString("amount_1", ""),
				Amount2Desired: req.GetString("amount_2", ""),
				Amount1Min:     req.GetString("amount_1_min", "0"),
				Amount2Min:     req.GetString("amount_2_min", "0"),
				MintTo:         req.GetString("to", ""),
			})
		case "remove":
			data, err = calldata.RemoveLiquidity(types.RemoveLiquidityParams{
				Asset1:     asset1,
				Asset2:     asset2,
				LPBurn:     req.GetString("lp_burn", ""),
				Amount1Min: req.GetString("amount_1_min", "0"),
				Amount2Min: req.GetString("amount_2_min", "0"),
				WithdrawTo: req.GetString("to", ""),
				DeadlineMS: int64(req.GetInt("deadline_ms", 0)),
			})
		case "create":
			data, err = calldata.CreatePair(types.CreatePoolParams{Asset1: asset1, Asset2: asset2})
		default:
			return gomcp.NewToolResultError(fmt.Sprintf("unknown action %q, want add, remove, or create", action)), nil
		}
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Encoding failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Liquidity Calldata"),
			kv("Action", action),
			kv("Bytes", formatNumber(len(data))),
			"0x"+common.Bytes2Hex(data),
		)), nil
	})
}

func registerBlockTime(s *server.MCPServer, deps Deps) {
	tool := gomcp.NewTool("dex_block_time",
		gomcp.WithDescription("Get the current buffered block-time estimate and the deadline a transaction signed now would carry."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if deps.BlockTime == nil {
			return gomcp.NewToolResultError("block-time estimator is not wired"), nil
		}
		estimate := deps.BlockTime.EstimateMS()
		samples := deps.BlockTime.Samples()
		return gomcp.NewToolResultText(joinLines(
			section("Block Time"),
			kv("Estimate", formatMs(float64(estimate))),
			kv("Samples", formatNumber(len(samples))),
		)), nil
	})
}

func registerGasQuote(s *server.MCPServer, deps Deps) {
	tool := gomcp.NewTool("dex_gas_quote",
		gomcp.WithDescription("Estimate gas for raw precompile calldata. Returns a limit plus either EIP-1559 or legacy fee fields."),
		gomcp.WithString("data",
			gomcp.Required(),
			gomcp.Description("0x-prefixed calldata hex"),
		),
		gomcp.WithString("from",
			gomcp.Description("Sender address used for simulation"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if deps.Gas == nil {
			return gomcp.NewToolResultError("gas estimator is not wired"), nil
		}
		data, err := req.RequireString("data")
		if err != nil {
			return gomcp.NewToolResultError("data is required"), nil
		}
		estimate, err := deps.Gas.Estimate(ctx, rpc.TransactionArgs{
			From: req.GetString("from", ""),
			To:   deps.PrecompileAddr,
			Data: data,
		})
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Estimation failed: %v", err)), nil
		}

		lines := []string{
			section("Gas Quote"),
			kv("Gas Limit", formatNumber(estimate.GasLimit)),
		}
		if estimate.IsDynamic() {
			lines = append(lines,
				kv("Max Fee", estimate.MaxFeePerGas+" wei"),
				kv("Priority Fee", estimate.MaxPriorityFeePerGas+" wei"),
			)
		} else {
			lines = append(lines, kv("Gas Price", estimate.GasPrice+" wei"))
		}
		return gomcp.NewToolResultText(joinLines(lines...)), nil
	})
}

func registerHistory(s *server.MCPServer, deps Deps) {
	tool := gomcp.NewTool("dex_history",
		gomcp.WithDescription("List recent DEX operations (swaps, liquidity changes, pool creations), newest first."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if deps.Store == nil {
			return gomcp.NewToolResultError("operation history is not wired"), nil
		}
		ops, err := deps.Store.ListRecent(ctx, req.GetInt("limit", 10))
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		if len(ops) == 0 {
			return gomcp.NewToolResultText("No operations recorded yet."), nil
		}

		lines := section("Operation History")
		for _, op := range ops {
			lines += "\n\n" + formatOperation(op)
		}
		return gomcp.NewToolResultText(lines), nil
	})
}

func registerOperation(s *server.MCPServer, deps Deps) {
	tool := gomcp.NewTool("dex_operation",
		gomcp.WithDescription("Look up one operation by its id or by the transaction hash it submitted."),
		gomcp.WithString("id", gomcp.Description("Operation id")),
		gomcp.WithString("tx_hash", gomcp.Description("Transaction hash")),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		if deps.Store == nil {
			return gomcp.NewToolResultError("operation history is not wired"), nil
		}

		var op *types.OperationStatus
		var err error
		switch {
		case req.GetString("id", "") != "":
			op, err = deps.Store.Get(ctx, req.GetString("id", ""))
		case req.GetString("tx_hash", "") != "":
			op, err = deps.Store.GetByTxHash(ctx, req.GetString("tx_hash", ""))
		default:
			return gomcp.NewToolResultError("either id or tx_hash is required"), nil
		}
		if err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Lookup failed: %v", err)), nil
		}
		if op == nil {
			return gomcp.NewToolResultText("No matching operation found."), nil
		}
		return gomcp.NewToolResultText(formatOperation(*op)), nil
	})
}

func parseAssetArg(req gomcp.CallToolRequest, key string) (types.AssetID, error) {
	raw, err := req.RequireString(key)
	if err != nil {
		return 0, fmt.Errorf("%s is required", key)
	}
	id, err := assetaddr.ParseAssetID(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", key, err)
	}
	return id, nil
}

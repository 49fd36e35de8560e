// DEX MCP server.
// Exposes address, calldata, fee, and history tools over MCP stdio transport.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/p3dex/internal/blocktime"
	"github.com/gateway-fm/p3dex/internal/config"
	"github.com/gateway-fm/p3dex/internal/gas"
	mcptools "github.com/gateway-fm/p3dex/internal/mcp"
	"github.com/gateway-fm/p3dex/internal/rpc"
	"github.com/gateway-fm/p3dex/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"p3dex",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	client := rpc.NewHTTPClient(rpc.DefaultClientConfig(cfg.RPCURL))

	deps := mcptools.Deps{
		BlockTime:      blocktime.NewEstimator(cfg.ExpectedBlockMS, nil),
		Gas:            gas.NewEstimator(client, nil),
		PrecompileAddr: cfg.PrecompileAddr,
	}

	if !cfg.DisableHistory {
		st, err := store.Open(cfg.DatabasePath, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot open history database: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		deps.Store = st
	}

	mcptools.RegisterTools(s, deps)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

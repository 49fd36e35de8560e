// p3dex runs pool operations against the 3Dpass swap precompile from the
// command line: swap, add/remove liquidity, create pool, and history lookup.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/p3dex/internal/assetaddr"
	"github.com/gateway-fm/p3dex/internal/blocktime"
	"github.com/gateway-fm/p3dex/internal/config"
	"github.com/gateway-fm/p3dex/internal/conn"
	"github.com/gateway-fm/p3dex/internal/gas"
	"github.com/gateway-fm/p3dex/internal/headers"
	"github.com/gateway-fm/p3dex/internal/lifecycle"
	"github.com/gateway-fm/p3dex/internal/metrics"
	"github.com/gateway-fm/p3dex/internal/rpc"
	"github.com/gateway-fm/p3dex/internal/store"
	"github.com/gateway-fm/p3dex/pkg/types"
)

const backfillBlocks = 16

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	wallet  *conn.Manager
	machine *lifecycle.Machine
	history *store.Store
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger()

	clientCfg := rpc.DefaultClientConfig(cfg.RPCURL)
	clientCfg.Logger = logger
	client := rpc.NewHTTPClient(clientCfg)

	wallet := conn.NewManager(client, cfg.ChainID, logger)

	estimator := blocktime.NewEstimator(cfg.ExpectedBlockMS, logger)
	gasEst := gas.NewEstimator(client, logger)

	machine := lifecycle.NewMachine(lifecycle.Config{
		Client:          client,
		Wallet:          wallet,
		Gas:             gasEst,
		Clock:           blocktime.RPCClock{Client: client},
		PrecompileAddr:  cfg.PrecompileAddr,
		ExpectedChainID: cfg.ChainID,
		GuardTimeout:    cfg.GuardTimeout,
		Logger:          logger,
	})

	m := metrics.New(nil)
	machine.Subscribe(m.Observer())

	a := &app{
		cfg:     cfg,
		logger:  logger,
		wallet:  wallet,
		machine: machine,
	}

	if !cfg.DisableHistory {
		st, err := store.Open(cfg.DatabasePath, logger)
		if err != nil {
			logger.Error("cannot open history database", "error", err, "path", cfg.DatabasePath)
			os.Exit(1)
		}
		defer st.Close()
		machine.Subscribe(st.Observer())
		a.history = st
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	// Feed the block-time estimator: seed from recent headers, then follow
	// new heads over WebSocket.
	wsURL := cfg.WSURL
	if wsURL == "" {
		wsURL = cfg.RPCURL
	}
	sub := headers.NewSubscriber(wsURL, logger)
	go sub.Run(ctx)
	go func() {
		seedCtx, seedCancel := context.WithTimeout(ctx, 30*time.Second)
		samples, err := headers.Backfill(seedCtx, client, backfillBlocks)
		seedCancel()
		if err != nil {
			logger.Warn("header backfill failed, estimator starts from fallback", "error", err)
		}
		estimator.Backfill(samples)
		for sample := range sub.Samples() {
			estimator.Observe(sample)
			m.SetBlockTimeEstimate(estimator.EstimateMS())
		}
	}()

	go serveMetrics(logger)

	if err := a.run(ctx, flag.Args()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// serveMetrics exposes Prometheus metrics on localhost only.
func serveMetrics(logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe("localhost:6061", mux); err != nil {
		logger.Warn("metrics server failed", "error", err)
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError()
	}

	cmd, rest := args[0], args[1:]
	if cmd == "history" {
		return a.showHistory(ctx)
	}

	account, err := a.wallet.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect wallet: %w", err)
	}
	a.logger.Info("wallet connected", "account", account, "chain_id", a.cfg.ChainID)

	var result *lifecycle.Result
	switch cmd {
	case "swap":
		result, err = a.swap(ctx, rest)
	case "add":
		result, err = a.addLiquidity(ctx, rest)
	case "remove":
		result, err = a.removeLiquidity(ctx, rest)
	case "create":
		result, err = a.createPool(ctx, rest)
	default:
		return usageError()
	}
	if err != nil {
		if result != nil && result.Status.TxHash != "" {
			fmt.Printf("explorer: %s\n", a.cfg.ExplorerTxURL(result.Status.TxHash))
		}
		return err
	}

	a.printResult(result)
	return nil
}

func usageError() error {
	return fmt.Errorf("usage: p3dex [flags] <swap IN OUT AMOUNT_IN AMOUNT_OUT_MIN | add A1 A2 AMT1 AMT2 | remove A1 A2 LP_BURN | create A1 A2 | history>")
}

func (a *app) swap(ctx context.Context, args []string) (*lifecycle.Result, error) {
	if len(args) != 4 {
		return nil, usageError()
	}
	assetIn, err := assetaddr.ParseAssetID(args[0])
	if err != nil {
		return nil, err
	}
	assetOut, err := assetaddr.ParseAssetID(args[1])
	if err != nil {
		return nil, err
	}
	return a.machine.SwapExactIn(ctx, types.SwapParams{
		AssetIn:      assetIn,
		AssetOut:     assetOut,
		AmountIn:     args[2],
		AmountOutMin: args[3],
	})
}

func (a *app) addLiquidity(ctx context.Context, args []string) (*lifecycle.Result, error) {
	if len(args) != 4 {
		return nil, usageError()
	}
	asset1, err := assetaddr.ParseAssetID(args[0])
	if err != nil {
		return nil, err
	}
	asset2, err := assetaddr.ParseAssetID(args[1])
	if err != nil {
		return nil, err
	}
	return a.machine.AddLiquidity(ctx, types.AddLiquidityParams{
		Asset1:         asset1,
		Asset2:         asset2,
		Amount1Desired: args[2],
		Amount2Desired: args[3],
		Amount1Min:     "1",
		Amount2Min:     "1",
	})
}

func (a *app) removeLiquidity(ctx context.Context, args []string) (*lifecycle.Result, error) {
	if len(args) != 3 {
		return nil, usageError()
	}
	asset1, err := assetaddr.ParseAssetID(args[0])
	if err != nil {
		return nil, err
	}
	asset2, err := assetaddr.ParseAssetID(args[1])
	if err != nil {
		return nil, err
	}
	return a.machine.RemoveLiquidity(ctx, types.RemoveLiquidityParams{
		Asset1:     asset1,
		Asset2:     asset2,
		LPBurn:     args[2],
		Amount1Min: "1",
		Amount2Min: "1",
	})
}

func (a *app) createPool(ctx context.Context, args []string) (*lifecycle.Result, error) {
	if len(args) != 2 {
		return nil, usageError()
	}
	asset1, err := assetaddr.ParseAssetID(args[0])
	if err != nil {
		return nil, err
	}
	asset2, err := assetaddr.ParseAssetID(args[1])
	if err != nil {
		return nil, err
	}
	return a.machine.CreatePool(ctx, types.CreatePoolParams{Asset1: asset1, Asset2: asset2})
}

func (a *app) showHistory(ctx context.Context) error {
	if a.history == nil {
		return fmt.Errorf("operation history is disabled")
	}
	ops, err := a.history.ListRecent(ctx, 20)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Println("no operations recorded")
		return nil
	}
	for _, op := range ops {
		line := fmt.Sprintf("%s  %-16s %-22s", op.StartedAt.Format(time.RFC3339), op.Kind, op.Stage)
		if op.TxHash != "" {
			line += "  " + op.TxHash
		}
		if op.Error != "" {
			line += "  " + op.Error
		}
		fmt.Println(line)
	}
	return nil
}

func (a *app) printResult(res *lifecycle.Result) {
	fmt.Printf("stage:   %s\n", res.Status.Stage)
	if res.Status.TxHash != "" {
		fmt.Printf("tx:      %s\n", res.Status.TxHash)
		if url := a.cfg.ExplorerTxURL(res.Status.TxHash); url != "" {
			fmt.Printf("explorer: %s\n", url)
		}
	}
	if res.Status.Block > 0 {
		fmt.Printf("block:   %s\n", strconv.FormatUint(res.Status.Block, 10))
	}
	if res.Receipt != nil {
		fmt.Printf("gas:     %d\n", res.Receipt.GasUsed)
	}
	switch {
	case res.Swap != nil:
		fmt.Printf("swapped: in %s/%s out %s/%s\n",
			res.Swap.Amount0In, res.Swap.Amount1In, res.Swap.Amount0Out, res.Swap.Amount1Out)
	case res.Liquidity != nil:
		verb := "minted"
		if res.Liquidity.Burned {
			verb = "burned"
		}
		fmt.Printf("%s:  %s / %s\n", verb, res.Liquidity.Amount0, res.Liquidity.Amount1)
	case res.PairCreated != nil:
		fmt.Printf("pair:    %s\n", res.PairCreated.Pair.Hex())
	}
}

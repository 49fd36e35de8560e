// Package rpc provides the JSON-RPC client for the injected EVM provider
// surface, with retry logic for transient failures.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/p3dex/pkg/types"
)

// Client is the narrow provider interface the DEX core consumes. Both the
// HTTP node client and injected-provider bridges implement it.
type Client interface {
	// Call makes a raw JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// ChainID returns the EVM chain id.
	ChainID(ctx context.Context) (uint64, error)

	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// BlockTimestampMS returns one block's number and embedded timestamp in
	// milliseconds. blockNum "latest" or a hex number.
	BlockTimestampMS(ctx context.Context, blockNum string) (types.BlockTimeSample, error)

	// Accounts returns the provider's unlocked accounts.
	Accounts(ctx context.Context) ([]string, error)

	// RequestAccounts asks the provider to expose accounts (wallet prompt).
	RequestAccounts(ctx context.Context) ([]string, error)

	// EstimateGas simulates a call and returns the gas needed.
	EstimateGas(ctx context.Context, tx TransactionArgs) (uint64, error)

	// GasPrice returns the legacy gas price in wei.
	GasPrice(ctx context.Context) (*big.Int, error)

	// FeeHistory returns base fees and priority-fee percentiles over the
	// last blockCount blocks.
	FeeHistory(ctx context.Context, blockCount int, percentiles []float64) (*FeeHistory, error)

	// CallContract executes a read-only call at the given block
	// ("latest" or hex number) and returns the raw return data.
	CallContract(ctx context.Context, tx TransactionArgs, blockNum string) ([]byte, error)

	// SendTransaction hands an unsigned transaction to the provider for
	// signing and broadcast, returning the tx hash.
	SendTransaction(ctx context.Context, tx TransactionArgs) (string, error)

	// TransactionReceipt returns the receipt, or nil while pending.
	TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error)

	// TransactionByHash reports whether the node knows the transaction.
	TransactionByHash(ctx context.Context, txHash string) (bool, error)
}

// TransactionArgs is the eth_sendTransaction / eth_call parameter object.
// All numeric fields are hex-encoded per the provider wire format.
type TransactionArgs struct {
	From                 string `json:"from,omitempty"`
	To                   string `json:"to,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	GasPrice             string `json:"gasPrice,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	Value                string `json:"value,omitempty"`
	Data                 string `json:"data,omitempty"`
}

// Receipt is an EVM transaction receipt with the fields the lifecycle
// machine consumes.
type Receipt struct {
	Status      uint64      `json:"status"` // 1 = success, 0 = reverted
	BlockNumber uint64      `json:"blockNumber"`
	GasUsed     uint64      `json:"gasUsed"`
	TxHash      string      `json:"transactionHash"`
	Logs        []types.Log `json:"logs"`
}

// FeeHistory is the decoded eth_feeHistory result.
type FeeHistory struct {
	OldestBlock  uint64
	BaseFees     []*big.Int   // per block, length blockCount+1
	Rewards      [][]*big.Int // per block, one entry per requested percentile
	GasUsedRatio []float64
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration. Wallet operations can
// block on user interaction, so the timeout is generous.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		logger:     logger,
	}
}

// Call makes a JSON-RPC call with retry logic. RPC-level errors are not
// retried; they are application outcomes (reverts, rejections).
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	backoff := c.backoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		result, err := c.doRequest(ctx, body)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if isRetryableHTTPError(err) {
			backoff = getRetryDelay(err, backoff)
			c.logger.Debug("RPC got retryable HTTP error, retrying",
				slog.String("method", method),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			continue
		}

		if isRPCError(err) {
			return nil, err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) doRequest(ctx context.Context, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Data:    rpcResp.Error.Data,
		}
	}

	return rpcResp.Result, nil
}

// ChainID returns the EVM chain id via eth_chainId.
func (c *HTTPClient) ChainID(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "eth_chainId", nil)
}

// BlockNumber returns the latest block number.
func (c *HTTPClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "eth_blockNumber", nil)
}

// BlockTimestampMS fetches a block header and returns number plus the
// timestamp scaled to milliseconds (nodes report seconds).
func (c *HTTPClient) BlockTimestampMS(ctx context.Context, blockNum string) (types.BlockTimeSample, error) {
	result, err := c.Call(ctx, "eth_getBlockByNumber", []interface{}{blockNum, false})
	if err != nil {
		return types.BlockTimeSample{}, err
	}
	if string(result) == "null" {
		return types.BlockTimeSample{}, fmt.Errorf("block %s not found", blockNum)
	}

	var rawBlock struct {
		Number    string `json:"number"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(result, &rawBlock); err != nil {
		return types.BlockTimeSample{}, fmt.Errorf("failed to unmarshal block: %w", err)
	}

	num, err := hexutil.DecodeUint64(rawBlock.Number)
	if err != nil {
		return types.BlockTimeSample{}, fmt.Errorf("failed to decode block number: %w", err)
	}
	ts, err := hexutil.DecodeUint64(rawBlock.Timestamp)
	if err != nil {
		return types.BlockTimeSample{}, fmt.Errorf("failed to decode block timestamp: %w", err)
	}

	return types.BlockTimeSample{
		BlockNumber: num,
		TimestampMS: int64(ts) * 1000,
	}, nil
}

// Accounts returns the provider's unlocked accounts.
func (c *HTTPClient) Accounts(ctx context.Context) ([]string, error) {
	return c.callStrings(ctx, "eth_accounts")
}

// RequestAccounts asks the provider to expose accounts.
func (c *HTTPClient) RequestAccounts(ctx context.Context) ([]string, error) {
	return c.callStrings(ctx, "eth_requestAccounts")
}

func (c *HTTPClient) callStrings(ctx context.Context, method string) ([]string, error) {
	result, err := c.Call(ctx, method, nil)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(result, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return accounts, nil
}

// EstimateGas simulates a call and returns the gas needed.
func (c *HTTPClient) EstimateGas(ctx context.Context, tx TransactionArgs) (uint64, error) {
	return c.callUint64(ctx, "eth_estimateGas", []interface{}{tx})
}

// GasPrice returns the legacy gas price in wei.
func (c *HTTPClient) GasPrice(ctx context.Context) (*big.Int, error) {
	result, err := c.Call(ctx, "eth_gasPrice", nil)
	if err != nil {
		return nil, err
	}
	var priceHex string
	if err := json.Unmarshal(result, &priceHex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gas price: %w", err)
	}
	return hexutil.DecodeBig(priceHex)
}

// FeeHistory fetches base fees and priority-fee percentiles.
func (c *HTTPClient) FeeHistory(ctx context.Context, blockCount int, percentiles []float64) (*FeeHistory, error) {
	result, err := c.Call(ctx, "eth_feeHistory", []interface{}{
		hexutil.EncodeUint64(uint64(blockCount)), "latest", percentiles,
	})
	if err != nil {
		return nil, err
	}

	var raw struct {
		OldestBlock   string     `json:"oldestBlock"`
		BaseFeePerGas []string   `json:"baseFeePerGas"`
		Reward        [][]string `json:"reward"`
		GasUsedRatio  []float64  `json:"gasUsedRatio"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fee history: %w", err)
	}

	fh := &FeeHistory{GasUsedRatio: raw.GasUsedRatio}
	if raw.OldestBlock != "" {
		if fh.OldestBlock, err = hexutil.DecodeUint64(raw.OldestBlock); err != nil {
			return nil, fmt.Errorf("failed to decode oldestBlock: %w", err)
		}
	}
	for _, feeHex := range raw.BaseFeePerGas {
		fee, err := hexutil.DecodeBig(feeHex)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base fee: %w", err)
		}
		fh.BaseFees = append(fh.BaseFees, fee)
	}
	for _, block := range raw.Reward {
		rewards := make([]*big.Int, 0, len(block))
		for _, rewardHex := range block {
			r, err := hexutil.DecodeBig(rewardHex)
			if err != nil {
				return nil, fmt.Errorf("failed to decode reward: %w", err)
			}
			rewards = append(rewards, r)
		}
		fh.Rewards = append(fh.Rewards, rewards)
	}
	return fh, nil
}

// CallContract executes a read-only call.
func (c *HTTPClient) CallContract(ctx context.Context, tx TransactionArgs, blockNum string) ([]byte, error) {
	if blockNum == "" {
		blockNum = "latest"
	}
	result, err := c.Call(ctx, "eth_call", []interface{}{tx, blockNum})
	if err != nil {
		return nil, err
	}
	var retHex string
	if err := json.Unmarshal(result, &retHex); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call result: %w", err)
	}
	return hexutil.Decode(retHex)
}

// SendTransaction hands an unsigned transaction to the provider.
func (c *HTTPClient) SendTransaction(ctx context.Context, tx TransactionArgs) (string, error) {
	result, err := c.Call(ctx, "eth_sendTransaction", []interface{}{tx})
	if err != nil {
		return "", err
	}
	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return txHash, nil
}

// TransactionReceipt returns the receipt, or nil while the transaction is
// still pending. "Not found yet" is an expected outcome, not an error.
func (c *HTTPClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	result, err := c.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}

	var raw struct {
		Status      string      `json:"status"`
		BlockNumber string      `json:"blockNumber"`
		GasUsed     string      `json:"gasUsed"`
		TxHash      string      `json:"transactionHash"`
		Logs        []types.Log `json:"logs"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}

	status, _ := hexutil.DecodeUint64(raw.Status)
	blockNumber, _ := hexutil.DecodeUint64(raw.BlockNumber)
	gasUsed, _ := hexutil.DecodeUint64(raw.GasUsed)

	return &Receipt{
		Status:      status,
		BlockNumber: blockNumber,
		GasUsed:     gasUsed,
		TxHash:      raw.TxHash,
		Logs:        raw.Logs,
	}, nil
}

// TransactionByHash reports whether the node knows the transaction.
func (c *HTTPClient) TransactionByHash(ctx context.Context, txHash string) (bool, error) {
	result, err := c.Call(ctx, "eth_getTransactionByHash", []interface{}{txHash})
	if err != nil {
		return false, err
	}
	return string(result) != "null", nil
}

func (c *HTTPClient) callUint64(ctx context.Context, method string, params []interface{}) (uint64, error) {
	result, err := c.Call(ctx, method, params)
	if err != nil {
		return 0, err
	}
	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return hexutil.DecodeUint64(hex)
}

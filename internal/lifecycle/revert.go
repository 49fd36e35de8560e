package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/p3dex/internal/rpc"
)

// Error(string) selector.
var errorStringSelector = common.FromHex("0x08c379a0")

// revertReason tries to recover a human-readable reason for a failed
// transaction by replaying the call at its inclusion block. The second
// return value is false when no reason could be recovered; that is an
// expected outcome and must not abort the failure report.
func revertReason(ctx context.Context, client rpc.Client, tx rpc.TransactionArgs, blockNumber uint64) (string, bool) {
	data, err := client.CallContract(ctx, tx, hexutil.EncodeUint64(blockNumber))
	if err != nil {
		var rpcErr *rpc.RPCError
		if errors.As(err, &rpcErr) {
			if reason, ok := decodeErrorData(rpcErr.Data); ok {
				return reason, true
			}
			if rpcErr.Message != "" {
				return rpcErr.Message, true
			}
		}
		return "", false
	}
	return decodeErrorString(data)
}

// decodeErrorData handles nodes that return the revert payload as a hex
// string in the error's data field.
func decodeErrorData(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return "", false
	}
	b, err := hexutil.Decode(hexStr)
	if err != nil {
		return "", false
	}
	return decodeErrorString(b)
}

// decodeErrorString decodes the standard Error(string) ABI revert payload:
// selector, offset word, length word, then the message bytes.
func decodeErrorString(b []byte) (string, bool) {
	const word = 32
	if len(b) < 4+2*word || !bytes.Equal(b[:4], errorStringSelector) {
		return "", false
	}
	body := b[4:]

	offset := new(big.Int).SetBytes(body[:word])
	if !offset.IsUint64() {
		return "", false
	}
	off := int(offset.Uint64())
	if off < 0 || off+word > len(body) {
		return "", false
	}

	length := new(big.Int).SetBytes(body[off : off+word])
	if !length.IsUint64() {
		return "", false
	}
	start := off + word
	end := start + int(length.Uint64())
	if end < start || end > len(body) {
		return "", false
	}
	return string(body[start:end]), true
}

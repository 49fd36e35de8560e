package lifecycle

import (
	"math/big"
	"testing"
)

func errorPayload(msg string, offset int64) []byte {
	word := func(v int64) []byte {
		var w [32]byte
		big.NewInt(v).FillBytes(w[:])
		return w[:]
	}
	b := append([]byte{}, errorStringSelector...)
	b = append(b, word(offset)...)
	b = append(b, word(int64(len(msg)))...)
	padded := make([]byte, (len(msg)+31)/32*32)
	copy(padded, msg)
	return append(b, padded...)
}

func TestDecodeErrorString(t *testing.T) {
	reason, ok := decodeErrorString(errorPayload("UniswapV2: INSUFFICIENT_OUTPUT_AMOUNT", 32))
	if !ok || reason != "UniswapV2: INSUFFICIENT_OUTPUT_AMOUNT" {
		t.Errorf("decoded (%q, %v)", reason, ok)
	}
}

func TestDecodeErrorString_NoReason(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong selector", append([]byte{0xde, 0xad, 0xbe, 0xef}, make([]byte, 64)...)},
		{"truncated", errorPayload("truncated-reason", 32)[:40]},
		{"offset past end", errorPayload("x", 9999)},
		{"bare return data", make([]byte, 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if reason, ok := decodeErrorString(tt.data); ok {
				t.Errorf("decoded %q from undecodable payload", reason)
			}
		})
	}
}

// Package assetaddr maps native asset identifiers to synthetic EVM
// addresses and back. The mapping is deterministic and stateless.
package assetaddr

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/p3dex/pkg/types"
)

// Address family prefixes. Every synthetic address is a 4-byte family
// prefix followed by the asset id as a 16-byte big-endian integer.
var (
	assetPrefix = common.FromHex("0xFBFBFBFA")
	lpPrefix    = common.FromHex("0xFBFBFBFB")
)

// NativeTokenAddress is the well-known precompile address representing the
// chain's native token (asset id 0). Only the asset family special-cases it;
// the LP family encodes id 0 with the standard prefix+padding rule.
var NativeTokenAddress = common.HexToAddress("0x0000000000000000000000000000000000000802")

var (
	// ErrInvalidAssetID is returned for negative, non-integer, or
	// unparseable asset ids.
	ErrInvalidAssetID = errors.New("invalid asset id")

	// ErrUnknownPrefix is returned when an address belongs to neither
	// synthetic family and is not the native token address.
	ErrUnknownPrefix = errors.New("unrecognized address prefix")

	// ErrMalformedAddress is returned for non-hex or wrong-length input.
	ErrMalformedAddress = errors.New("malformed address")
)

// Kind classifies a synthetic address.
type Kind int

const (
	KindUnknown Kind = iota
	KindAsset
	KindLiquidityPool
)

func (k Kind) String() string {
	switch k {
	case KindAsset:
		return "asset"
	case KindLiquidityPool:
		return "liquidity-pool"
	default:
		return "unknown"
	}
}

// AssetAddress returns the checksummed asset contract address for id.
// Id 0 maps to the fixed native token precompile address.
func AssetAddress(id types.AssetID) string {
	if id == types.NativeAssetID {
		return NativeTokenAddress.Hex()
	}
	return encode(assetPrefix, id).Hex()
}

// LPAssetAddress returns the checksummed liquidity-pool token address for
// id. There is no special case for id 0.
func LPAssetAddress(id types.AssetID) string {
	return encode(lpPrefix, id).Hex()
}

func encode(prefix []byte, id types.AssetID) common.Address {
	var addr common.Address
	copy(addr[:4], prefix)
	new(big.Int).SetUint64(uint64(id)).FillBytes(addr[4:])
	return addr
}

// AssetID decodes a synthetic address back to its asset id. It matches the
// native token address case-insensitively and otherwise requires one of the
// two family prefixes.
func AssetID(addr string) (types.AssetID, error) {
	if !common.IsHexAddress(addr) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAddress, addr)
	}
	a := common.HexToAddress(addr)
	if a == NativeTokenAddress {
		return types.NativeAssetID, nil
	}
	if !bytes.Equal(a[:4], assetPrefix) && !bytes.Equal(a[:4], lpPrefix) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPrefix, a.Hex())
	}
	id := new(big.Int).SetBytes(a[4:])
	if !id.IsUint64() {
		return 0, fmt.Errorf("%w: payload exceeds 64 bits in %s", ErrInvalidAssetID, a.Hex())
	}
	return types.AssetID(id.Uint64()), nil
}

// Classify reports which family an address belongs to. Malformed input is
// classified as unknown rather than rejected.
func Classify(addr string) Kind {
	if !common.IsHexAddress(addr) {
		return KindUnknown
	}
	a := common.HexToAddress(addr)
	switch {
	case a == NativeTokenAddress:
		return KindAsset
	case bytes.Equal(a[:4], assetPrefix):
		return KindAsset
	case bytes.Equal(a[:4], lpPrefix):
		return KindLiquidityPool
	default:
		return KindUnknown
	}
}

// Checksum normalizes an address to its EIP-55 mixed-case form.
func Checksum(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", ErrMalformedAddress, addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// ParseAssetID parses a decimal asset id string. Negative, fractional, or
// non-numeric input is rejected with ErrInvalidAssetID.
func ParseAssetID(s string) (types.AssetID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAssetID)
	}
	id, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAssetID, s)
	}
	if id.Sign() < 0 || !id.IsUint64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAssetID, s)
	}
	return types.AssetID(id.Uint64()), nil
}

// AssetAddressMap converts a batch of decimal asset id strings to asset
// addresses. Invalid entries are omitted from the result, not reported.
func AssetAddressMap(ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	for _, s := range ids {
		id, err := ParseAssetID(s)
		if err != nil {
			continue
		}
		out[s] = AssetAddress(id)
	}
	return out
}

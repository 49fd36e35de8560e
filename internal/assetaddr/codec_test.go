package assetaddr

import (
	"errors"
	"strings"
	"testing"

	"github.com/gateway-fm/p3dex/pkg/types"
)

func TestAssetAddress_Native(t *testing.T) {
	got := AssetAddress(types.NativeAssetID)
	if got != NativeTokenAddress.Hex() {
		t.Errorf("AssetAddress(0) = %s, want %s", got, NativeTokenAddress.Hex())
	}
}

func TestAssetAddress_Checksummed(t *testing.T) {
	got := AssetAddress(222)
	want := "0xfBFBfbFA000000000000000000000000000000de"
	if got != want {
		t.Errorf("AssetAddress(222) = %s, want %s", got, want)
	}
}

func TestLPAssetAddress(t *testing.T) {
	got := LPAssetAddress(222)
	want := "0xfbfBFBFB000000000000000000000000000000dE"
	if got != want {
		t.Errorf("LPAssetAddress(222) = %s, want %s", got, want)
	}
}

func TestLPAssetAddress_ZeroNotSpecialCased(t *testing.T) {
	got := LPAssetAddress(0)
	if got == NativeTokenAddress.Hex() {
		t.Error("LPAssetAddress(0) must not map to the native token address")
	}
	if !strings.HasPrefix(strings.ToLower(got), "0xfbfbfbfb") {
		t.Errorf("LPAssetAddress(0) = %s, want lp prefix", got)
	}
}

func TestAssetID_RoundTrip(t *testing.T) {
	ids := []types.AssetID{0, 1, 222, 4096, 1<<32 - 1, 1<<63 + 5}
	for _, id := range ids {
		got, err := AssetID(AssetAddress(id))
		if err != nil {
			t.Fatalf("AssetID(AssetAddress(%d)) error = %v", id, err)
		}
		if got != id {
			t.Errorf("asset round trip %d -> %d", id, got)
		}

		got, err = AssetID(LPAssetAddress(id))
		if err != nil {
			t.Fatalf("AssetID(LPAssetAddress(%d)) error = %v", id, err)
		}
		if got != id {
			t.Errorf("lp round trip %d -> %d", id, got)
		}
	}
}

func TestAssetID_NativeCaseInsensitive(t *testing.T) {
	got, err := AssetID("0x0000000000000000000000000000000000000802")
	if err != nil {
		t.Fatalf("AssetID() error = %v", err)
	}
	if got != types.NativeAssetID {
		t.Errorf("AssetID(native) = %d, want 0", got)
	}
}

func TestAssetID_UnknownPrefix(t *testing.T) {
	_, err := AssetID("0x1234567890123456789012345678901234567890")
	if !errors.Is(err, ErrUnknownPrefix) {
		t.Errorf("AssetID() error = %v, want ErrUnknownPrefix", err)
	}
}

func TestAssetID_Malformed(t *testing.T) {
	for _, addr := range []string{"", "0x12", "not-an-address", "0xzzfbfbfa000000000000000000000000000000de"} {
		if _, err := AssetID(addr); !errors.Is(err, ErrMalformedAddress) {
			t.Errorf("AssetID(%q) error = %v, want ErrMalformedAddress", addr, err)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		addr string
		want Kind
	}{
		{AssetAddress(5), KindAsset},
		{NativeTokenAddress.Hex(), KindAsset},
		{LPAssetAddress(5), KindLiquidityPool},
		{"0x1111111111111111111111111111111111111111", KindUnknown},
		{"garbage", KindUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.addr); got != tt.want {
			t.Errorf("Classify(%s) = %s, want %s", tt.addr, got, tt.want)
		}
	}
}

func TestChecksum(t *testing.T) {
	got, err := Checksum("0xfbfbfbfa000000000000000000000000000000de")
	if err != nil {
		t.Fatalf("Checksum() error = %v", err)
	}
	if got != "0xfBFBfbFA000000000000000000000000000000de" {
		t.Errorf("Checksum() = %s", got)
	}

	if _, err := Checksum("0x123"); !errors.Is(err, ErrMalformedAddress) {
		t.Errorf("Checksum(short) error = %v, want ErrMalformedAddress", err)
	}
}

func TestParseAssetID(t *testing.T) {
	tests := []struct {
		in      string
		want    types.AssetID
		wantErr bool
	}{
		{"0", 0, false},
		{"222", 222, false},
		{" 42 ", 42, false},
		{"", 0, true},
		{"-1", 0, true},
		{"1.5", 0, true},
		{"abc", 0, true},
		{"340282366920938463463374607431768211456", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseAssetID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAssetID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseAssetID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestAssetAddressMap_SkipsInvalid(t *testing.T) {
	got := AssetAddressMap([]string{"0", "222", "-3", "x", "7"})
	if len(got) != 3 {
		t.Fatalf("AssetAddressMap() kept %d entries, want 3", len(got))
	}
	if got["0"] != NativeTokenAddress.Hex() {
		t.Errorf("entry for 0 = %s", got["0"])
	}
	if got["222"] != AssetAddress(222) {
		t.Errorf("entry for 222 = %s", got["222"])
	}
	if _, ok := got["-3"]; ok {
		t.Error("invalid entry -3 must be omitted")
	}
}

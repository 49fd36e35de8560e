package calldata

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Function selectors of the swap precompile. The contract mirrors the
// Uniswap V2 router/factory surface, so the swap selectors match the
// canonical ones; the liquidity entry points take asset contract addresses
// directly and have no deadline argument.
var (
	// swapExactTokensForTokens(uint256,uint256,address[],address,uint256)
	selectorSwapExactIn = common.FromHex("0x38ed1739")
	// swapTokensForExactTokens(uint256,uint256,address[],address,uint256)
	selectorSwapExactOut = common.FromHex("0x8803dbee")
	// addLiquidity(address,address,uint256,uint256,uint256,uint256,address)
	selectorAddLiquidity = common.FromHex("0xca3d6539")
	// removeLiquidity(address,address,uint256,uint256,uint256,address)
	selectorRemoveLiquidity = common.FromHex("0xc0e3ee6b")
	// createPair(address,address)
	selectorCreatePair = common.FromHex("0xc9c65396")
	// getPair(address,address)
	selectorGetPair = common.FromHex("0xe6a43905")
	// allPairsLength()
	selectorAllPairsLength = common.FromHex("0x574f2ba3")
	// allPairs(uint256)
	selectorAllPairs = common.FromHex("0x1e3dd18b")
	// balanceOf(address), the ERC-20 surface every asset precompile exposes
	selectorBalanceOf = common.FromHex("0x70a08231")
)

// Event topic-0 selectors, derived from the canonical V2 signatures.
var (
	topicSwap        = crypto.Keccak256Hash([]byte("Swap(address,uint256,uint256,uint256,uint256,address)"))
	topicMint        = crypto.Keccak256Hash([]byte("Mint(address,uint256,uint256)"))
	topicBurn        = crypto.Keccak256Hash([]byte("Burn(address,uint256,uint256,address)"))
	topicPairCreated = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))
)

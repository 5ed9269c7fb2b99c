// Package pricing resolves AMM mid prices through the Uniswap V3 QuoterV2
// contract.
package pricing

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultQuoterAddress is the Uniswap V3 QuoterV2 deployment on Ethereum mainnet.
const DefaultQuoterAddress = "0x61fFE014bA17989E743c5F6cB21bF9697530B21e"

const quoteExactInputSingle = "quoteExactInputSingle"

// Uniswap V3 QuoterV2 ABI, quoteExactInputSingle only.
const quoterV2ABI = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "tokenIn", "type": "address"},
					{"internalType": "address", "name": "tokenOut", "type": "address"},
					{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
					{"internalType": "uint24", "name": "fee", "type": "uint24"},
					{"internalType": "uint160", "name": "sqrtPriceLimitX96", "type": "uint160"}
				],
				"internalType": "struct IQuoterV2.QuoteExactInputSingleParams",
				"name": "params",
				"type": "tuple"
			}
		],
		"name": "quoteExactInputSingle",
		"outputs": [
			{"internalType": "uint256", "name": "amountOut", "type": "uint256"},
			{"internalType": "uint160", "name": "sqrtPriceX96After", "type": "uint160"},
			{"internalType": "uint32", "name": "initializedTicksCrossed", "type": "uint32"},
			{"internalType": "uint256", "name": "gasEstimate", "type": "uint256"}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var quoterABI = mustParseABI(quoterV2ABI)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse quoter ABI: %v", err))
	}
	return parsed
}

// quoteParams mirrors IQuoterV2.QuoteExactInputSingleParams.
type quoteParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

// EncodeQuoteExactInputSingle returns calldata quoting amountIn of tokenIn
// for tokenOut in the pool with the given fee tier, without a price limit.
func EncodeQuoteExactInputSingle(tokenIn, tokenOut common.Address, amountIn *big.Int, fee uint32) ([]byte, error) {
	data, err := quoterABI.Pack(quoteExactInputSingle, quoteParams{
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amountIn,
		Fee:               new(big.Int).SetUint64(uint64(fee)),
		SqrtPriceLimitX96: new(big.Int),
	})
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", quoteExactInputSingle, err)
	}
	return data, nil
}

// DecodeAmountOut extracts amountOut from a quoteExactInputSingle result.
func DecodeAmountOut(data []byte) (*big.Int, error) {
	values, err := quoterABI.Unpack(quoteExactInputSingle, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", quoteExactInputSingle, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", quoteExactInputSingle)
	}
	amountOut, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected amountOut type %T", quoteExactInputSingle, values[0])
	}
	return amountOut, nil
}

// EncodeQuoteResult packs a quoteExactInputSingle return value. The fields
// other than amountOut are zero.
func EncodeQuoteResult(amountOut *big.Int) ([]byte, error) {
	method := quoterABI.Methods[quoteExactInputSingle]
	return method.Outputs.Pack(amountOut, new(big.Int), uint32(0), new(big.Int))
}

package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"market-state-engine/internal/address"
	"market-state-engine/internal/chain"
	"market-state-engine/internal/domain"
	"market-state-engine/internal/observability"
)

// DefaultFeeTiers are the Uniswap V3 fee tiers in hundredths of a basis
// point, lowest first: 0.01%, 0.05%, 0.3%, 1%.
var DefaultFeeTiers = []uint32{100, 500, 3000, 10000}

// Resolution outcomes recorded in metrics.
const (
	outcomeResolved       = "resolved"
	outcomeNoLiquidity    = "no_liquidity"
	outcomeRPCUnavailable = "rpc_unavailable"
	outcomeInvalidAddress = "invalid_address"
	outcomeUnsupported    = "unsupported_chain"
)

// errMalformedQuote marks a quoter answer that could not be decoded. The
// quoter was reached, so it counts as a liquidity failure.
var errMalformedQuote = errors.New("malformed quote")

// Config holds resolver configuration.
type Config struct {
	QuoterAddress string
	FeeTiers      []uint32
}

// Resolver finds a mid price by probing fee tiers in order. The first tier
// with a positive quote wins; tiers are not compared for the best price.
type Resolver struct {
	caller   chain.Caller
	quoter   common.Address
	feeTiers []uint32
	logger   *slog.Logger
}

// NewResolver creates a resolver reading through caller.
func NewResolver(caller chain.Caller, cfg Config, logger *slog.Logger) (*Resolver, error) {
	if caller == nil {
		return nil, errors.New("caller is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	quoter := cfg.QuoterAddress
	if quoter == "" {
		quoter = DefaultQuoterAddress
	}
	if err := address.Validate(domain.ChainEVM, quoter); err != nil {
		return nil, fmt.Errorf("quoter address: %w", err)
	}

	tiers := cfg.FeeTiers
	if len(tiers) == 0 {
		tiers = DefaultFeeTiers
	}

	return &Resolver{
		caller:   caller,
		quoter:   common.HexToAddress(quoter),
		feeTiers: append([]uint32(nil), tiers...),
		logger:   logger,
	}, nil
}

// FeeTiers returns the probed fee tiers in order.
func (r *Resolver) FeeTiers() []uint32 {
	return append([]uint32(nil), r.feeTiers...)
}

// GetMidPrice returns the price of one whole tokenIn in tokenOut units.
// Any failure yields (0, false).
func (r *Resolver) GetMidPrice(ctx context.Context, tokenIn, tokenOut domain.Token) (float64, bool) {
	price, err := r.Resolve(ctx, tokenIn, tokenOut)
	if err != nil {
		return 0, false
	}
	return price, true
}

// Resolve is GetMidPrice with the failure reason. Errors match
// domain.ErrInvalidAddress, domain.ErrUnsupportedChain, domain.ErrNoLiquidity
// or domain.ErrRPCUnavailable.
func (r *Resolver) Resolve(ctx context.Context, tokenIn, tokenOut domain.Token) (float64, error) {
	for _, t := range []domain.Token{tokenIn, tokenOut} {
		if err := address.ValidateToken(t); err != nil {
			observability.RecordPriceResolution(outcomeInvalidAddress)
			return 0, err
		}
		if t.Chain.Normalize() != domain.ChainEVM {
			observability.RecordPriceResolution(outcomeUnsupported)
			return 0, fmt.Errorf("%s on %s: %w", t.Symbol, t.Chain, domain.ErrUnsupportedChain)
		}
	}

	in := common.HexToAddress(tokenIn.Address)
	out := common.HexToAddress(tokenOut.Address)
	amountIn := pow10(tokenIn.Decimals)

	var (
		answered bool // some tier reached the quoter
		lastErr  error
	)

	for _, fee := range r.feeTiers {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		amountOut, err := r.quote(ctx, in, out, amountIn, fee)
		if err != nil {
			lastErr = err
			if chain.IsRevert(err) || errors.Is(err, errMalformedQuote) {
				answered = true
			}
			r.logger.Debug("fee tier quote failed",
				slog.Uint64("fee_tier", uint64(fee)),
				slog.String("pair", tokenIn.Symbol+"/"+tokenOut.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		answered = true
		if amountOut.Sign() <= 0 {
			r.logger.Debug("fee tier has no liquidity",
				slog.Uint64("fee_tier", uint64(fee)),
				slog.String("pair", tokenIn.Symbol+"/"+tokenOut.Symbol),
			)
			continue
		}

		price, _ := new(big.Float).Quo(
			new(big.Float).SetInt(amountOut),
			new(big.Float).SetInt(pow10(tokenOut.Decimals)),
		).Float64()
		if price <= 0 {
			continue
		}

		observability.RecordFeeTierHit(fee)
		observability.RecordPriceResolution(outcomeResolved)
		return price, nil
	}

	if answered {
		observability.RecordPriceResolution(outcomeNoLiquidity)
		return 0, fmt.Errorf("%s/%s: %w", tokenIn.Symbol, tokenOut.Symbol, domain.ErrNoLiquidity)
	}

	observability.RecordPriceResolution(outcomeRPCUnavailable)
	if lastErr == nil {
		return 0, fmt.Errorf("%s/%s: no fee tiers: %w", tokenIn.Symbol, tokenOut.Symbol, domain.ErrRPCUnavailable)
	}
	if errors.Is(lastErr, domain.ErrRPCUnavailable) {
		return 0, lastErr
	}
	return 0, fmt.Errorf("%w: %w", domain.ErrRPCUnavailable, lastErr)
}

func (r *Resolver) quote(ctx context.Context, in, out common.Address, amountIn *big.Int, fee uint32) (*big.Int, error) {
	data, err := EncodeQuoteExactInputSingle(in, out, amountIn, fee)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := r.caller.Call(ctx, chain.CallMsg{To: r.quoter, Data: data})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("fee tier quoted",
		slog.Uint64("fee_tier", uint64(fee)),
		slog.Duration("elapsed", time.Since(start)),
	)

	amountOut, err := DecodeAmountOut(result)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedQuote, err)
	}
	return amountOut, nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

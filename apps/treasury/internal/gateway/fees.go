package gateway

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"go.uber.org/zap"
)

const (
	// FallbackGasLimit is used when gas simulation fails.
	FallbackGasLimit = 300000
	// gasBufferNum/gasBufferDen apply a 1.25x safety multiplier to estimates.
	gasBufferNum = 5
	gasBufferDen = 4
)

// FeeParams carries either EIP-1559 fee-market parameters or a single legacy
// gas price, depending on what the chain supports.
type FeeParams struct {
	GasFeeCap *big.Int
	GasTipCap *big.Int
	GasPrice  *big.Int
}

// Dynamic reports whether the params describe a fee-market transaction.
func (f FeeParams) Dynamic() bool {
	return f.GasFeeCap != nil
}

// ComputeFeeParams builds fee parameters from the latest base fee (nil when
// the chain predates the fee market) and suggested tip/legacy price. The fee
// cap is 2x base fee plus tip, generous enough to survive base-fee growth
// between estimation and inclusion.
func ComputeFeeParams(baseFee, tipCap, legacyPrice *big.Int) FeeParams {
	if baseFee == nil {
		return FeeParams{GasPrice: legacyPrice}
	}
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tipCap)
	return FeeParams{GasFeeCap: feeCap, GasTipCap: tipCap}
}

// SuggestFees queries the chain for current fee parameters, preferring the
// fee-market model when the latest block reports a base fee.
func (g *Gateway) SuggestFees(ctx context.Context) (FeeParams, error) {
	header, err := g.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return FeeParams{}, err
	}

	if header.BaseFee != nil {
		tip, err := g.client.SuggestGasTipCap(ctx)
		if err != nil {
			return FeeParams{}, err
		}
		return ComputeFeeParams(header.BaseFee, tip, nil), nil
	}

	price, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return FeeParams{}, err
	}
	return ComputeFeeParams(nil, nil, price), nil
}

// EstimateGasWithBuffer simulates the call and applies the safety multiplier.
// Simulation failures fall back to a fixed limit rather than blocking the
// submission; the chain will still reject a genuinely doomed transaction.
func (g *Gateway) EstimateGasWithBuffer(ctx context.Context, call ethereum.CallMsg) uint64 {
	estimate, err := g.client.EstimateGas(ctx, call)
	if err != nil {
		g.logger.Warn("Gas estimation failed, using fallback limit",
			zap.String("chain", g.chain.Key),
			zap.Uint64("fallback", FallbackGasLimit),
			zap.Error(err))
		return FallbackGasLimit
	}
	return BufferedGas(estimate)
}

// BufferedGas applies the 1.25x safety multiplier to a raw estimate.
func BufferedGas(estimate uint64) uint64 {
	return estimate * gasBufferNum / gasBufferDen
}

package params

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
)

// MainnetChainConfig is a representative production configuration: tight
// time-skew tolerance, the standard epoch length and gas price bounds.
var MainnetChainConfig = &ChainConfig{
	ChainName:                          "mainnet",
	EpochLength:                        43200,
	TimeSkewTolerance:                  DefaultAcceptableTimeDifference,
	MinGasPrice:                        big.NewInt(1e8),
	MaxGasPrice:                        new(big.Int).Mul(big.NewInt(1e8), big.NewInt(1e9)),
	GasPriceAdjustmentRateNumerator:     1,
	GasPriceAdjustmentRateDenominator:   100,
	NumBlockProducerSeats:               100,
	NumEpochsToKeepStoreData:            NumEpochsToKeepStoreData,
	GCForkCleanStep:                     GCForkCleanStep,
}

// SandboxChainConfig widens the time-skew tolerance for local test
// networks; the gate is configuration rather than a compile flag so one
// binary serves both.
var SandboxChainConfig = &ChainConfig{
	ChainName:                          "sandbox",
	EpochLength:                        MainnetChainConfig.EpochLength,
	TimeSkewTolerance:                  SandboxAcceptableTimeDifference,
	MinGasPrice:                        MainnetChainConfig.MinGasPrice,
	MaxGasPrice:                        MainnetChainConfig.MaxGasPrice,
	GasPriceAdjustmentRateNumerator:    MainnetChainConfig.GasPriceAdjustmentRateNumerator,
	GasPriceAdjustmentRateDenominator:  MainnetChainConfig.GasPriceAdjustmentRateDenominator,
	NumBlockProducerSeats:              MainnetChainConfig.NumBlockProducerSeats,
	NumEpochsToKeepStoreData:           MainnetChainConfig.NumEpochsToKeepStoreData,
	GCForkCleanStep:                    MainnetChainConfig.GCForkCleanStep,
}

// ChainConfig parameterizes the per-network values the validation and GC
// rules consume: gas price bounds and adjustment rate, epoch length, and
// the time-skew tolerance. One flat struct; there is no nested EVM config
// layer to keep separate here.
type ChainConfig struct {
	ChainName string `json:"chainName"`

	// EpochLength is the number of block heights per epoch.
	EpochLength uint64 `json:"epochLength"`

	// TimeSkewTolerance bounds how far into the future a header's timestamp
	// may be relative to the local clock. Production defaults to
	// DefaultAcceptableTimeDifference; sandbox configurations widen it.
	TimeSkewTolerance time.Duration `json:"timeSkewTolerance"`

	// MinGasPrice/MaxGasPrice bound every block's gas price.
	MinGasPrice *big.Int `json:"minGasPrice"`
	MaxGasPrice *big.Int `json:"maxGasPrice"`

	// GasPriceAdjustmentRateNumerator/Denominator bound how far a block's gas
	// price may move from its predecessor's in one step.
	GasPriceAdjustmentRateNumerator   uint64 `json:"gasPriceAdjustmentRateNumerator"`
	GasPriceAdjustmentRateDenominator uint64 `json:"gasPriceAdjustmentRateDenominator"`

	NumBlockProducerSeats uint64 `json:"numBlockProducerSeats"`

	// NumEpochsToKeepStoreData/GCForkCleanStep override the protocol-level
	// defaults in protocol_params.go when a deployment needs different GC
	// cadence (e.g. an archive node).
	NumEpochsToKeepStoreData uint64 `json:"numEpochsToKeepStoreData"`
	GCForkCleanStep          uint64 `json:"gcForkCleanStep"`
}

// Description returns a human-readable summary of the configuration.
func (c *ChainConfig) Description() string {
	return fmt.Sprintf("Chain: %s, epoch length: %d, time skew tolerance: %s",
		c.ChainName, c.EpochLength, c.TimeSkewTolerance)
}

// GasPriceInRange reports whether price falls within [MinGasPrice, MaxGasPrice],
// clamping against the configured bounds with common/math.BigMin/BigMax the
// way go-ethereum's gas-price estimation helpers do.
func (c *ChainConfig) GasPriceInRange(price *big.Int) bool {
	clamped := math.BigMax(c.MinGasPrice, math.BigMin(price, c.MaxGasPrice))
	return price.Cmp(clamped) == 0
}

// GasPriceAdjustedFrom reports whether next is within the allowed adjustment
// rate of prev: |next - prev| <= prev * num / den.
func (c *ChainConfig) GasPriceAdjustedFrom(prev, next *big.Int) bool {
	diff := new(big.Int).Sub(next, prev)
	diff.Abs(diff)
	bound := new(big.Int).Mul(prev, big.NewInt(int64(c.GasPriceAdjustmentRateNumerator)))
	bound.Div(bound, big.NewInt(int64(c.GasPriceAdjustmentRateDenominator)))
	return diff.Cmp(bound) <= 0
}

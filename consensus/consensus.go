// Package consensus defines the network-wide constants and pure
// validation rules every header and block must satisfy: block timing,
// difficulty retargeting, coinbase maturity, and the cut-through
// horizon beyond which reorganizations are refused.
package consensus

// BlockTimeSec is the target interval, in seconds, between blocks.
const BlockTimeSec = 60

// HourHeight, DayHeight, WeekHeight and YearHeight express standard
// time intervals in block-height units at the target block time.
const (
	HourHeight = 3600 / BlockTimeSec
	DayHeight  = 24 * HourHeight
	WeekHeight = 7 * DayHeight
	YearHeight = 52 * WeekHeight
)

// CoinbaseMaturity is the number of blocks a coinbase output must age
// before it can be spent: one day's worth of blocks.
const CoinbaseMaturity = (24 * 60 * 60) / BlockTimeSec

// CutThroughHorizon is how far back a reorg may reach before it is
// refused outright: one week of blocks, an order of magnitude beyond
// any fork depth seen in practice.
const CutThroughHorizon = WeekHeight

// DifficultyAdjustWindow is the number of trailing blocks a difficulty
// retarget averages over.
const DifficultyAdjustWindow = HourHeight

// BlockTimeWindow is the nominal span, in seconds, the difficulty
// window should have taken to produce at the target block time.
const BlockTimeWindow = DifficultyAdjustWindow * BlockTimeSec

// UpperTimeBound and LowerTimeBound clamp the observed span of a
// difficulty window before it's used to retarget, limiting how far a
// single window's timestamps can swing the next difficulty.
const (
	UpperTimeBound = BlockTimeWindow * 2
	LowerTimeBound = BlockTimeWindow / 2
)

// HeaderVersionInterval is how many blocks a header-version schedule
// entry covers before the next scheduled version takes effect.
const HeaderVersionInterval = YearHeight / 2

// MaxHeaderVersion is the newest header version this schedule knows
// about; heights beyond the schedule's last interval stay pinned here.
const MaxHeaderVersion = 4

// Block weight charges each input, output, and kernel a different
// share of a block's total weight limit, reflecting their relative
// storage cost in the txhashset (an output carries a full range proof
// and lives on two MMRs; an input just removes one; a kernel is a
// single fixed-size record). Neither spec.md nor the reference
// implementation this was distilled from specify an exact formula, so
// these numbers are a judgment call modeled on the shape (not the
// exact values) of the analogous Grin/MimbleWimble weight scheme:
// outputs are the most expensive unit, inputs the cheapest.
const (
	BlockInputWeight  = 1
	BlockOutputWeight = 21
	BlockKernelWeight = 3

	// MaxBlockWeight bounds a block's total weight, keeping a single
	// block's validation cost and txhashset growth bounded.
	MaxBlockWeight = 40000
)

// BlockWeight computes a block body's total weight from its input,
// output, and kernel counts.
func BlockWeight(numInputs, numOutputs, numKernels int) uint64 {
	return uint64(numInputs)*BlockInputWeight +
		uint64(numOutputs)*BlockOutputWeight +
		uint64(numKernels)*BlockKernelWeight
}

// HeaderVersion returns the consensus-mandated header version for a
// given block height: version 1 from genesis, stepping up once per
// HeaderVersionInterval blocks until MaxHeaderVersion, then held fixed.
func HeaderVersion(height uint64) uint16 {
	version := 1 + height/HeaderVersionInterval
	if version > MaxHeaderVersion {
		version = MaxHeaderVersion
	}
	return uint16(version)
}

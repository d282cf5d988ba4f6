package registry

import (
	"math/big"
	"time"
)

// Settings is the single administrative record the escrow ledger consults on
// every operation. Owner is fixed at initialization; the remaining fields are
// owner-mutable.
type Settings struct {
	Owner          string
	Arbitrator     string
	PlatformFeeBps int32
	DisputeStake   *big.Int
	UpdatedAt      time.Time
}

// MaxFeeBps bounds the platform fee strictly below 100%.
const MaxFeeBps = 10000

// InitParams seeds the registry at system start.
type InitParams struct {
	Owner          string
	Arbitrator     string
	PlatformFeeBps int32
	DisputeStake   *big.Int
}

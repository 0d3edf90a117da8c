package engine

import (
	"fmt"

	fpmath "CurveLedger/internal/math"
)

// Weights is the basis-point fee partition applied to every buy's
// gross cost. The five buckets must sum to exactly 10 000.
type Weights struct {
	ReserveBps  int64
	ProjectBps  int64
	PlatformBps int64
	ReferralBps int64
	RewardsBps  int64
}

func (w Weights) Validate() error {
	for _, bps := range []int64{w.ReserveBps, w.ProjectBps, w.PlatformBps, w.ReferralBps, w.RewardsBps} {
		if bps < 0 {
			return fmt.Errorf("splitter: negative fee weight")
		}
	}
	if sum := w.ReserveBps + w.ProjectBps + w.PlatformBps + w.ReferralBps + w.RewardsBps; sum != fpmath.BpsDenom {
		return fmt.Errorf("splitter: fee weights sum to %d, want %d", sum, fpmath.BpsDenom)
	}
	return nil
}

// Split is an exact partition of a gross amount:
// Reserve + Project + Platform + Referral + Rewards == gross, always.
type Split struct {
	Reserve  int64
	Project  int64
	Platform int64
	Referral int64
	Rewards  int64
}

// Sum returns the bucket total (== the gross amount split).
func (s Split) Sum() int64 {
	return s.Reserve + s.Project + s.Platform + s.Referral + s.Rewards
}

// Apply partitions gross across the buckets. Each bucket is computed
// with truncating division and the remainder lands in the platform
// bucket, the rounding anchor, so the partition is exact for every
// amount including ones that do not divide evenly.
//
// When hasReferrer is false the referral bucket is redirected into the
// rewards bucket; no referral dust is ever dropped.
func (w Weights) Apply(gross int64, hasReferrer bool) Split {
	if gross <= 0 {
		return Split{}
	}

	s := Split{
		Reserve:  fpmath.ApplyBps(gross, w.ReserveBps),
		Project:  fpmath.ApplyBps(gross, w.ProjectBps),
		Referral: fpmath.ApplyBps(gross, w.ReferralBps),
		Rewards:  fpmath.ApplyBps(gross, w.RewardsBps),
	}
	s.Platform = gross - s.Reserve - s.Project - s.Referral - s.Rewards

	if !hasReferrer {
		s.Rewards += s.Referral
		s.Referral = 0
	}
	return s
}

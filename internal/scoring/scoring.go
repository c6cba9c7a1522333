// Package scoring holds the pure ranking and health formulas. Nothing
// here touches the store or the clock; every function maps inputs to
// outputs so the same store state always scores the same way.
package scoring

import (
	"time"

	"agencyos/internal/domain"
)

// Confidence grades how much an input can be trusted.
type Confidence string

const (
	ConfidenceHigh Confidence = "HIGH"
	ConfidenceMed  Confidence = "MED"
	ConfidenceLow  Confidence = "LOW"
)

// Scalar maps a confidence grade onto the BaseScore input.
func (c Confidence) Scalar() float64 {
	switch c {
	case ConfidenceHigh:
		return 1.0
	case ConfidenceMed:
		return 0.6
	case ConfidenceLow:
		return 0.3
	default:
		return 0.3
	}
}

// BaseScore weights. Locked constants; changing them reshuffles every
// ranked list, so they only move together with recorded rationale.
const (
	weightImpact          = 0.30
	weightUrgency         = 0.30
	weightControllability = 0.20
	weightConfidence      = 0.20
)

// BaseScore combines the four ranking inputs into [0,1].
func BaseScore(impact, urgency, controllability float64, conf Confidence) float64 {
	return weightImpact*clamp01(impact) +
		weightUrgency*clamp01(urgency) +
		weightControllability*clamp01(controllability) +
		weightConfidence*conf.Scalar()
}

// UrgencyFromTTC maps time-to-consequence in hours onto [0,1].
// Piecewise linear with fixed anchor points: 0h→1.0, 12h→0.7, 24h→0.5,
// 168h→0.1, then a slow decay to zero.
func UrgencyFromTTC(ttcHours float64) float64 {
	switch {
	case ttcHours <= 0:
		return 1.0
	case ttcHours <= 12:
		return 1.0 - (ttcHours/12)*0.3
	case ttcHours <= 24:
		return 0.7 - ((ttcHours-12)/12)*0.2
	case ttcHours <= 168:
		return 0.5 - ((ttcHours-24)/144)*0.4
	default:
		return max0(0.1 - (ttcHours-168)/1000)
	}
}

// domainWeights is the mode × domain matrix for ModeWeightedScore.
var domainWeights = map[domain.Mode]map[domain.Domain]float64{
	domain.ModeOpsHead: {
		domain.DomainDelivery: 1.0, domain.DomainClients: 0.8, domain.DomainCash: 0.9,
		domain.DomainComms: 0.7, domain.DomainCapacity: 0.8,
	},
	domain.ModeCoFounder: {
		domain.DomainDelivery: 0.7, domain.DomainClients: 1.0, domain.DomainCash: 1.0,
		domain.DomainComms: 0.8, domain.DomainCapacity: 0.6,
	},
	domain.ModeArtist: {
		domain.DomainDelivery: 1.0, domain.DomainClients: 0.6, domain.DomainCash: 0.5,
		domain.DomainComms: 0.5, domain.DomainCapacity: 0.7,
	},
}

// DomainWeight returns the ranking weight for a domain under a mode.
// Unknown modes fall back to ops_head.
func DomainWeight(mode domain.Mode, d domain.Domain) float64 {
	weights, ok := domainWeights[mode]
	if !ok {
		weights = domainWeights[domain.ModeOpsHead]
	}
	return weights[d]
}

// ModeWeightedScore scales a base score by the operator's current mode.
func ModeWeightedScore(base float64, mode domain.Mode, d domain.Domain) float64 {
	return base * DomainWeight(mode, d)
}

// SlipInputs feeds SlipRisk. All components live in [0,1]; the caller
// derives them from project state.
type SlipInputs struct {
	DeadlinePressure float64
	RemainingWork    float64
	CapacityGap      float64
	BlockingSeverity float64
}

// SlipRisk combines delivery pressure signals into [0,1].
func SlipRisk(in SlipInputs) float64 {
	return clamp01(0.35*clamp01(in.DeadlinePressure) +
		0.25*clamp01(in.RemainingWork) +
		0.25*clamp01(in.CapacityGap) +
		0.15*clamp01(in.BlockingSeverity))
}

// DeadlinePressure maps a deadline onto [0,1]: past deadlines pin at
// 1.0, no deadline scores 0, otherwise pressure ramps over 14 days.
func DeadlinePressure(deadline *time.Time, today time.Time) float64 {
	if deadline == nil {
		return 0
	}
	days := deadline.Sub(today).Hours() / 24
	if days <= 0 {
		return 1.0
	}
	return max0(1 - days/14)
}

// RemainingWorkRatio is the open share of a project's tasks.
func RemainingWorkRatio(total, done int) float64 {
	if total <= 0 {
		return 0
	}
	return clamp01(float64(total-done) / float64(total))
}

// CapacityGapRatio compares remaining estimated hours to available lane
// hours: 0 when the work fits, ramping to 1 as demand reaches double
// the available capacity. Unknown capacity scores 0.
func CapacityGapRatio(remainingHours, availableHours float64) float64 {
	if availableHours <= 0 || remainingHours <= 0 {
		return 0
	}
	return clamp01(remainingHours/availableHours - 1)
}

// BlockingSeverity measures how much of a project is blocked. A blocked
// task at priority >= 80 is treated as a blocked critical path and pins
// severity at 1.0.
func BlockingSeverity(total, blocked, maxBlockedPriority int) float64 {
	if blocked > 0 && maxBlockedPriority >= 80 {
		return 1.0
	}
	if total <= 0 {
		return 0
	}
	return clamp01(float64(blocked) / float64(total))
}

// ProjectHealth maps slip risk plus blocking state onto a color.
func ProjectHealth(slipRisk float64, hasBlocked, blockedCritical, overdueDeadline bool) domain.HealthColor {
	if slipRisk > 0.6 || blockedCritical || overdueDeadline {
		return domain.HealthRed
	}
	if slipRisk >= 0.3 || hasBlocked {
		return domain.HealthYellow
	}
	return domain.HealthGreen
}

// HealthInputs are the five client sub-scores, each in [0,1].
type HealthInputs struct {
	Delivery       float64
	Finance        float64
	Responsiveness float64
	Commitments    float64
	Capacity       float64
}

// ClientHealth combines the sub-scores into 0..100.
func ClientHealth(in HealthInputs) float64 {
	return 100 * (0.30*clamp01(in.Delivery) +
		0.25*clamp01(in.Finance) +
		0.20*clamp01(in.Responsiveness) +
		0.15*clamp01(in.Commitments) +
		0.10*clamp01(in.Capacity))
}

// ClientColor maps a health score onto a color.
func ClientColor(score float64) domain.HealthColor {
	switch {
	case score >= 70:
		return domain.HealthGreen
	case score >= 40:
		return domain.HealthYellow
	default:
		return domain.HealthRed
	}
}

// FinanceScore maps the worst AR bucket onto [0,1].
func FinanceScore(worst domain.AgingBucket) float64 {
	switch worst {
	case domain.Aging1to30:
		return 0.8
	case domain.Aging31to60:
		return 0.55
	case domain.Aging61to90:
		return 0.3
	case domain.Aging90Plus:
		return 0.1
	default:
		return 1.0
	}
}

// ResponsivenessScore maps days since the last inbound communication
// onto [0,1]. Negative days means no communication on record, which
// scores a neutral 0.5 rather than punishing a client never heard from.
func ResponsivenessScore(daysSinceContact float64) float64 {
	switch {
	case daysSinceContact < 0:
		return 0.5
	case daysSinceContact <= 2:
		return 1.0
	case daysSinceContact <= 7:
		return 0.75
	case daysSinceContact <= 14:
		return 0.5
	case daysSinceContact <= 30:
		return 0.25
	default:
		return 0.1
	}
}

// CommitmentScore is the kept share of closed commitments; neutral 0.7
// when nothing has closed yet.
func CommitmentScore(fulfilled, broken int) float64 {
	if fulfilled+broken == 0 {
		return 0.7
	}
	return float64(fulfilled) / float64(fulfilled+broken)
}

// Horizon is a ranking window with its own eligibility rule.
type Horizon string

const (
	HorizonNow      Horizon = "NOW"
	HorizonToday    Horizon = "TODAY"
	HorizonThisWeek Horizon = "THIS_WEEK"
)

// HorizonInputs feed the eligibility predicates. TTCHours and Impact
// grade every item; the booleans are situation flags the caller derives
// from what the item addresses.
type HorizonInputs struct {
	TTCHours             float64
	Impact               float64
	Overdue              bool
	DependencyBreaker    bool
	CapacityBlockerToday bool
	TomorrowStartsBroken bool
	CriticalPath         bool
	CompoundingDamage    bool
	ARSevere             bool
}

// Eligible reports whether an item qualifies for the horizon.
func Eligible(h Horizon, in HorizonInputs) bool {
	switch h {
	case HorizonNow:
		return in.TTCHours <= 12 ||
			in.DependencyBreaker ||
			in.CapacityBlockerToday ||
			(in.Impact >= 0.5 && in.TTCHours <= 24)
	case HorizonToday:
		return in.TTCHours <= 16 ||
			in.TomorrowStartsBroken ||
			in.Impact >= 0.5 ||
			in.TTCHours <= 48 ||
			in.Overdue
	case HorizonThisWeek:
		return in.CriticalPath ||
			in.CompoundingDamage ||
			in.ARSevere ||
			in.TTCHours <= 168 ||
			in.Impact > 0.3
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

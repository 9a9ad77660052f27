// Package rules holds the alarm rules for liver-cancer risk: threshold
// checks, same-day pair detection, the 30-day progression walk and the
// risk formula. Everything here is pure computation over in-memory
// snapshots; persistence and gating live in the alerting service.
package rules

import (
	"errors"
	"sort"
	"time"

	"github.com/mr1hm/go-liver-alerts/internal/models"
)

const (
	altThresholdMale   = 45.0
	altThresholdFemale = 35.0

	fibrosisMin = 1.0
	fibrosisMax = 4.0

	// RequiredPairs is how many properly spaced alarming pairs a patient
	// needs before risk is computed at all.
	RequiredPairs = 3

	// minGapDays is the minimum spacing between accepted pairs.
	minGapDays = 30.0

	escalationCutoff = 0.3

	daysPerYear = 365.25
)

// ErrDegenerateRisk is returned when the risk denominator
// (newest ALT + oldest ALT) is zero.
var ErrDegenerateRisk = errors.New("degenerate risk: zero ALT denominator")

// AlarmingPair is one same-day ALT+fibrosis reading where both values
// crossed their thresholds. Derived on demand, never persisted.
type AlarmingPair struct {
	ALT      models.Measurement
	Fibrosis models.Measurement
	Date     time.Time // UTC midnight of the shared calendar day
}

// AltAlarming reports whether an ALT value crosses the sex-dependent
// threshold (strictly above 45 for males, 35 for females).
func AltAlarming(value float64, sex models.Sex) bool {
	if sex == models.SexMale {
		return value > altThresholdMale
	}
	return value > altThresholdFemale
}

// FibrosisAlarming reports whether a fibrosis value falls in stages
// F1-F4, i.e. 1 <= value <= 4 inclusive.
func FibrosisAlarming(value float64) bool {
	return value >= fibrosisMin && value <= fibrosisMax
}

// FindAlarmingPairs scans a patient's full measurement history and
// returns every calendar day (UTC) on which an alarming ALT reading and
// an alarming fibrosis reading coexist. When a day holds several
// readings of the same type, the earliest reading of that day is the
// one paired; the input order does not matter.
func FindAlarmingPairs(measurements []models.Measurement, sex models.Sex) []AlarmingPair {
	sorted := make([]models.Measurement, len(measurements))
	copy(sorted, measurements)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].MeasuredAt.Equal(sorted[j].MeasuredAt) {
			return sorted[i].MeasuredAt.Before(sorted[j].MeasuredAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	type dayReadings struct {
		alt      *models.Measurement
		fibrosis *models.Measurement
	}
	days := make(map[time.Time]*dayReadings)
	var order []time.Time

	for i := range sorted {
		m := sorted[i]
		day := dateUTC(m.MeasuredAt)
		dr, ok := days[day]
		if !ok {
			dr = &dayReadings{}
			days[day] = dr
			order = append(order, day)
		}
		switch m.Type {
		case models.MeasurementTypeALT:
			if dr.alt == nil {
				dr.alt = &sorted[i]
			}
		case models.MeasurementTypeFibrosis:
			if dr.fibrosis == nil {
				dr.fibrosis = &sorted[i]
			}
		}
	}

	var pairs []AlarmingPair
	for _, day := range order {
		dr := days[day]
		if dr.alt == nil || dr.fibrosis == nil {
			continue
		}
		if AltAlarming(dr.alt.Value, sex) && FibrosisAlarming(dr.fibrosis.Value) {
			pairs = append(pairs, AlarmingPair{
				ALT:      *dr.alt,
				Fibrosis: *dr.fibrosis,
				Date:     day,
			})
		}
	}
	return pairs
}

// SelectConsecutive runs the greedy progression walk: sort pairs most
// recent first, always anchor on the newest pair, then accept each
// subsequent pair only if it sits at least 30 days before the last
// accepted one. The walk never backtracks; a partial progression is
// not valid, so the result is exactly n pairs (newest first) or nil.
func SelectConsecutive(pairs []AlarmingPair, n int) []AlarmingPair {
	if len(pairs) < n {
		return nil
	}

	sorted := make([]AlarmingPair, len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	accepted := make([]AlarmingPair, 0, n)
	for _, p := range sorted {
		if len(accepted) == 0 {
			accepted = append(accepted, p)
			continue
		}
		last := accepted[len(accepted)-1]
		gap := last.Date.Sub(p.Date).Hours() / 24
		if gap < 0 {
			gap = -gap
		}
		if gap >= minGapDays {
			accepted = append(accepted, p)
			if len(accepted) == n {
				break
			}
		}
	}

	if len(accepted) != n {
		return nil
	}
	return accepted
}

// Risk computes the liver-cancer risk score from a validated
// progression:
//
//	(age/70) * (median fibrosis / 4) * (mean ALT / (newest ALT + oldest ALT))
//
// The newest and oldest pairs are identified by date, so the input
// order does not matter. The median takes the lower-middle element for
// even counts. A zero ALT denominator yields ErrDegenerateRisk.
func Risk(pairs []AlarmingPair, dateOfBirth, now time.Time) (float64, error) {
	ageYears := now.Sub(dateOfBirth).Hours() / 24 / daysPerYear

	fibrosis := make([]float64, len(pairs))
	var altSum float64
	newest, oldest := pairs[0], pairs[0]
	for i, p := range pairs {
		fibrosis[i] = p.Fibrosis.Value
		altSum += p.ALT.Value
		if p.Date.After(newest.Date) {
			newest = p
		}
		if p.Date.Before(oldest.Date) {
			oldest = p
		}
	}
	sort.Float64s(fibrosis)
	medianFibrosis := fibrosis[len(fibrosis)/2]
	meanALT := altSum / float64(len(pairs))

	newestALT := newest.ALT.Value
	oldestALT := oldest.ALT.Value
	if newestALT+oldestALT == 0 {
		return 0, ErrDegenerateRisk
	}

	return (ageYears / 70) * (medianFibrosis / 4) * (meanALT / (newestALT + oldestALT)), nil
}

// ShouldEscalate reports whether a risk score crosses the big-alert
// cutoff (strictly above 0.3).
func ShouldEscalate(risk float64) bool {
	return risk > escalationCutoff
}

// dateUTC truncates a timestamp to its UTC calendar day. Every
// measurement in one evaluation goes through the same truncation so
// grouping is timezone-consistent.
func dateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

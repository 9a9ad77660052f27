package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-liver-alerts/internal/models"
)

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func measurement(id string, mtype models.MeasurementType, value float64, at time.Time) models.Measurement {
	return models.Measurement{
		ID:         id,
		PatientID:  "p1",
		Type:       mtype,
		Value:      value,
		MeasuredAt: at,
	}
}

func pairAt(date time.Time, altValue, fibrosisValue float64) AlarmingPair {
	return AlarmingPair{
		ALT:      measurement("alt", models.MeasurementTypeALT, altValue, date),
		Fibrosis: measurement("fib", models.MeasurementTypeFibrosis, fibrosisValue, date),
		Date:     date,
	}
}

func TestAltAlarming(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		sex   models.Sex
		want  bool
	}{
		{"male at threshold", 45, models.SexMale, false},
		{"female at male threshold", 45, models.SexFemale, true},
		{"male just above", 45.1, models.SexMale, true},
		{"female just above male threshold", 45.1, models.SexFemale, true},
		{"female just above own threshold", 35.1, models.SexFemale, true},
		{"male at female-alarming value", 35.1, models.SexMale, false},
		{"female at threshold", 35, models.SexFemale, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AltAlarming(tt.value, tt.sex))
		})
	}
}

func TestFibrosisAlarming(t *testing.T) {
	assert.False(t, FibrosisAlarming(0.99))
	assert.True(t, FibrosisAlarming(1.0))
	assert.True(t, FibrosisAlarming(2.5))
	assert.True(t, FibrosisAlarming(4.0))
	assert.False(t, FibrosisAlarming(4.01))
}

func TestFindAlarmingPairs_SameDayDifferentTimes(t *testing.T) {
	morning := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	evening := time.Date(2024, 3, 10, 22, 30, 0, 0, time.UTC)

	pairs := FindAlarmingPairs([]models.Measurement{
		measurement("m1", models.MeasurementTypeALT, 50, morning),
		measurement("m2", models.MeasurementTypeFibrosis, 2, evening),
	}, models.SexMale)

	require.Len(t, pairs, 1)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), pairs[0].Date)
}

func TestFindAlarmingPairs_AdjacentDaysDoNotPair(t *testing.T) {
	// One second apart in wall-clock terms, but on different calendar days.
	beforeMidnight := time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	afterMidnight := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	pairs := FindAlarmingPairs([]models.Measurement{
		measurement("m1", models.MeasurementTypeALT, 50, beforeMidnight),
		measurement("m2", models.MeasurementTypeFibrosis, 2, afterMidnight),
	}, models.SexMale)

	assert.Empty(t, pairs)
}

func TestFindAlarmingPairs_BothMustAlarm(t *testing.T) {
	at := day(0)

	// ALT below threshold
	pairs := FindAlarmingPairs([]models.Measurement{
		measurement("m1", models.MeasurementTypeALT, 40, at),
		measurement("m2", models.MeasurementTypeFibrosis, 2, at),
	}, models.SexMale)
	assert.Empty(t, pairs)

	// Fibrosis out of range
	pairs = FindAlarmingPairs([]models.Measurement{
		measurement("m1", models.MeasurementTypeALT, 50, at),
		measurement("m2", models.MeasurementTypeFibrosis, 5, at),
	}, models.SexMale)
	assert.Empty(t, pairs)
}

func TestFindAlarmingPairs_DuplicateTypeTakesEarliestReading(t *testing.T) {
	early := time.Date(2024, 3, 10, 7, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 10, 19, 0, 0, 0, time.UTC)

	// Supplied late-first; the earliest reading of the day must still win.
	pairs := FindAlarmingPairs([]models.Measurement{
		measurement("m2", models.MeasurementTypeALT, 60, late),
		measurement("m1", models.MeasurementTypeALT, 50, early),
		measurement("m3", models.MeasurementTypeFibrosis, 2, late),
	}, models.SexMale)

	require.Len(t, pairs, 1)
	assert.Equal(t, 50.0, pairs[0].ALT.Value)
}

func TestSelectConsecutive_ValidProgression(t *testing.T) {
	pairs := []AlarmingPair{
		pairAt(day(0), 50, 2),
		pairAt(day(31), 50, 2),
		pairAt(day(62), 50, 2),
	}

	got := SelectConsecutive(pairs, 3)
	require.Len(t, got, 3)
	// Newest first.
	assert.Equal(t, day(62), got[0].Date)
	assert.Equal(t, day(31), got[1].Date)
	assert.Equal(t, day(0), got[2].Date)
}

func TestSelectConsecutive_GapTooSmall(t *testing.T) {
	pairs := []AlarmingPair{
		pairAt(day(0), 50, 2),
		pairAt(day(20), 50, 2),
		pairAt(day(62), 50, 2),
	}

	// Walk anchors on day 62, accepts day 20 (gap 42), skips day 0
	// (gap 20 from day 20): only two accepted, so nothing is returned.
	assert.Nil(t, SelectConsecutive(pairs, 3))
}

func TestSelectConsecutive_GreedySkipsCloseNeighbor(t *testing.T) {
	pairs := []AlarmingPair{
		pairAt(day(0), 50, 2),
		pairAt(day(31), 50, 2),
		pairAt(day(42), 50, 2),
		pairAt(day(62), 50, 2),
	}

	// Anchor day 62, skip day 42 (gap 20), accept day 31 (gap 31),
	// accept day 0 (gap 31).
	got := SelectConsecutive(pairs, 3)
	require.Len(t, got, 3)
	assert.Equal(t, day(62), got[0].Date)
	assert.Equal(t, day(31), got[1].Date)
	assert.Equal(t, day(0), got[2].Date)
}

func TestSelectConsecutive_PartialProgressionIsEmpty(t *testing.T) {
	pairs := []AlarmingPair{
		pairAt(day(0), 50, 2),
		pairAt(day(40), 50, 2),
	}
	assert.Nil(t, SelectConsecutive(pairs, 3))
}

func TestSelectConsecutive_ExactlyThirtyDaysCounts(t *testing.T) {
	pairs := []AlarmingPair{
		pairAt(day(0), 50, 2),
		pairAt(day(30), 50, 2),
		pairAt(day(60), 50, 2),
	}
	require.Len(t, SelectConsecutive(pairs, 3), 3)
}

func TestRisk_Formula(t *testing.T) {
	dob := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2056, 6, 15, 0, 0, 0, 0, time.UTC)

	pairs := []AlarmingPair{
		pairAt(day(62), 50, 2),
		pairAt(day(31), 50, 2),
		pairAt(day(0), 50, 2),
	}

	risk, err := Risk(pairs, dob, now)
	require.NoError(t, err)

	ageYears := now.Sub(dob).Hours() / 24 / 365.25
	want := (ageYears / 70) * (2.0 / 4.0) * (50.0 / (50.0 + 50.0))
	assert.InDelta(t, want, risk, 1e-12)
	assert.True(t, ShouldEscalate(risk))
}

func TestRisk_InputOrderDoesNotMatter(t *testing.T) {
	dob := time.Date(1960, 5, 2, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	// Distinct ALT values at the ends so a wrong newest/oldest pick
	// changes the denominator.
	newestFirst := []AlarmingPair{
		pairAt(day(80), 90, 3),
		pairAt(day(40), 60, 1),
		pairAt(day(0), 48, 2),
	}
	oldestFirst := []AlarmingPair{newestFirst[2], newestFirst[1], newestFirst[0]}

	a, err := Risk(newestFirst, dob, now)
	require.NoError(t, err)
	b, err := Risk(oldestFirst, dob, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	ageYears := now.Sub(dob).Hours() / 24 / 365.25
	want := (ageYears / 70) * (2.0 / 4.0) * (66.0 / (90.0 + 48.0))
	assert.InDelta(t, want, a, 1e-12)
}

func TestRisk_MedianUsesLowerMiddle(t *testing.T) {
	dob := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pairs := []AlarmingPair{
		pairAt(day(120), 50, 4),
		pairAt(day(80), 50, 1),
		pairAt(day(40), 50, 3),
		pairAt(day(0), 50, 2),
	}

	risk, err := Risk(pairs, dob, now)
	require.NoError(t, err)

	// Sorted fibrosis values are 1,2,3,4; index len/2 = 2 picks 3.
	ageYears := now.Sub(dob).Hours() / 24 / 365.25
	want := (ageYears / 70) * (3.0 / 4.0) * (50.0 / (50.0 + 50.0))
	assert.InDelta(t, want, risk, 1e-12)
}

func TestRisk_DegenerateDenominator(t *testing.T) {
	dob := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pairs := []AlarmingPair{
		pairAt(day(60), 0, 2),
		pairAt(day(30), 50, 2),
		pairAt(day(0), 0, 2),
	}

	_, err := Risk(pairs, dob, now)
	assert.ErrorIs(t, err, ErrDegenerateRisk)
}

func TestShouldEscalate_StrictCutoff(t *testing.T) {
	assert.False(t, ShouldEscalate(0.3))
	assert.True(t, ShouldEscalate(0.30000001))
}

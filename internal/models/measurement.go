package models

import "time"

type MeasurementType string

const (
	MeasurementTypeALT      MeasurementType = "ALT"
	MeasurementTypeFibrosis MeasurementType = "FIBROSIS"
)

// Measurement is immutable once recorded. MeasuredAt is the clinically
// meaningful timestamp; CreatedAt is when we stored it.
type Measurement struct {
	ID         string
	PatientID  string
	Type       MeasurementType
	Value      float64
	MeasuredAt time.Time
	CreatedAt  time.Time
}

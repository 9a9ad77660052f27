package models

import "time"

type AlertType string

const (
	AlertTypeSmall AlertType = "SMALL"
	AlertTypeBig   AlertType = "BIG"
)

// Alert transitions one way: unresolved -> resolved. Type never changes.
type Alert struct {
	ID        string
	PatientID string
	Type      AlertType
	Resolved  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

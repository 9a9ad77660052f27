package repository

import (
	"context"
	"errors"

	"github.com/mr1hm/go-liver-alerts/internal/models"
)

// ErrNotFound is returned when an identifier does not resolve to a row.
var ErrNotFound = errors.New("not found")

// AlertFilter narrows alert queries. Nil fields are ignored.
type AlertFilter struct {
	Type     *models.AlertType
	Resolved *bool
	Limit    int
}

type PatientRepository interface {
	AddPatient(ctx context.Context, p *models.Patient) error
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
	ListPatients(ctx context.Context) ([]models.Patient, error)
	DeletePatient(ctx context.Context, id string) error
}

type MeasurementRepository interface {
	AddMeasurement(ctx context.Context, m *models.Measurement) error
	GetMeasurement(ctx context.Context, id string) (*models.Measurement, error)
	// ListMeasurementsByPatient returns the patient's full history
	// ordered by measured_at ascending.
	ListMeasurementsByPatient(ctx context.Context, patientID string) ([]models.Measurement, error)
	ListMeasurements(ctx context.Context) ([]models.Measurement, error)
	DeleteMeasurement(ctx context.Context, id string) error
}

type AlertRepository interface {
	AddAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, patientID string, f AlertFilter) ([]models.Alert, error)
	ListAllAlerts(ctx context.Context) ([]models.Alert, error)
	// FindUnresolvedBig returns the patient's unresolved BIG alert, or
	// ErrNotFound when there is none.
	FindUnresolvedBig(ctx context.Context, patientID string) (*models.Alert, error)
	ResolveAlert(ctx context.Context, id string) error
	// ResolveBigCascade marks the given BIG alert and every unresolved
	// SMALL alert of the same patient resolved in one transaction.
	// Returns the number of SMALL alerts swept along.
	ResolveBigCascade(ctx context.Context, id, patientID string) (int64, error)
	DeleteAlert(ctx context.Context, id string) error
}

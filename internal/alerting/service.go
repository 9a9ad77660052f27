// Package alerting is the alert lifecycle manager. It runs the alarm
// rules against persisted state, gates alert creation behind the
// one-unresolved-BIG-per-patient invariant and owns the resolve state
// machine.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-liver-alerts/internal/models"
	"github.com/mr1hm/go-liver-alerts/internal/notify"
	"github.com/mr1hm/go-liver-alerts/internal/repository"
	"github.com/mr1hm/go-liver-alerts/internal/rules"
)

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrPatientNotFound = errors.New("patient not found")
	// ErrAlreadyResolved rejects resolve calls on terminal alerts;
	// resolution is one-way and never reopens.
	ErrAlreadyResolved = errors.New("alert already resolved")
)

type Service struct {
	patients     repository.PatientRepository
	measurements repository.MeasurementRepository
	alerts       repository.AlertRepository
	broadcaster  *notify.Broadcaster
	now          func() time.Time
	locks        keyedMutex
}

// NewService wires the lifecycle manager. broadcaster may be nil; now
// defaults to time.Now and is injectable so tests control the clock
// the age computation depends on.
func NewService(
	patients repository.PatientRepository,
	measurements repository.MeasurementRepository,
	alerts repository.AlertRepository,
	broadcaster *notify.Broadcaster,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		patients:     patients,
		measurements: measurements,
		alerts:       alerts,
		broadcaster:  broadcaster,
		now:          now,
	}
}

// RecordMeasurement persists a new observation and runs the alerting
// consequences. A zero measuredAt means "now".
func (s *Service) RecordMeasurement(ctx context.Context, patientID string, mtype models.MeasurementType, value float64, measuredAt time.Time) (*models.Measurement, error) {
	patient, err := s.patients.GetPatient(ctx, patientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}

	if measuredAt.IsZero() {
		measuredAt = s.now()
	}
	m := &models.Measurement{
		ID:         uuid.NewString(),
		PatientID:  patient.ID,
		Type:       mtype,
		Value:      value,
		MeasuredAt: measuredAt,
		CreatedAt:  s.now(),
	}
	if err := s.measurements.AddMeasurement(ctx, m); err != nil {
		return nil, fmt.Errorf("error persisting measurement: %w", err)
	}

	if err := s.CheckMeasurement(ctx, patient, mtype, value); err != nil {
		return nil, err
	}
	return m, nil
}

// CheckMeasurement applies the observation rules: while an unresolved
// BIG alert exists the observation has no alerting consequences at
// all; otherwise a threshold crossing raises one SMALL alert, and
// escalation is re-evaluated regardless.
func (s *Service) CheckMeasurement(ctx context.Context, patient *models.Patient, mtype models.MeasurementType, value float64) error {
	unlock := s.locks.lock(patient.ID)
	defer unlock()

	existing, err := s.unresolvedBig(ctx, patient.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Info("skipping alert checks, unresolved big alert exists", "patient_id", patient.ID)
		return nil
	}

	switch mtype {
	case models.MeasurementTypeALT:
		if rules.AltAlarming(value, patient.Sex) {
			if err := s.raiseSmall(ctx, patient.ID); err != nil {
				return err
			}
		}
	case models.MeasurementTypeFibrosis:
		if rules.FibrosisAlarming(value) {
			if err := s.raiseSmall(ctx, patient.ID); err != nil {
				return err
			}
		}
	}

	_, err = s.evaluateEscalationLocked(ctx, patient)
	return err
}

// EvaluateEscalation re-runs the escalation check for a patient
// outside the measurement path, e.g. from the periodic sweep. Returns
// the unresolved BIG alert in effect afterwards, if any.
func (s *Service) EvaluateEscalation(ctx context.Context, patientID string) (*models.Alert, error) {
	patient, err := s.patients.GetPatient(ctx, patientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(patient.ID)
	defer unlock()

	existing, err := s.unresolvedBig(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.evaluateEscalationLocked(ctx, patient)
}

func (s *Service) evaluateEscalationLocked(ctx context.Context, patient *models.Patient) (*models.Alert, error) {
	history, err := s.measurements.ListMeasurementsByPatient(ctx, patient.ID)
	if err != nil {
		return nil, fmt.Errorf("error loading measurement history: %w", err)
	}

	pairs := rules.FindAlarmingPairs(history, patient.Sex)
	progression := rules.SelectConsecutive(pairs, rules.RequiredPairs)
	if progression == nil {
		return nil, nil
	}

	risk, err := rules.Risk(progression, patient.DateOfBirth, s.now())
	if errors.Is(err, rules.ErrDegenerateRisk) {
		slog.Warn("risk computation degenerate, treating as non-escalating", "patient_id", patient.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !rules.ShouldEscalate(risk) {
		return nil, nil
	}

	// Re-check right before the write: a concurrent evaluation in
	// another process may have raised the BIG alert since the gate.
	existing, err := s.unresolvedBig(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	alert, err := s.createAlert(ctx, patient.ID, models.AlertTypeBig)
	if repository.IsUniqueViolation(err) {
		return s.unresolvedBig(ctx, patient.ID)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("big alert raised", "patient_id", patient.ID, "alert_id", alert.ID, "risk", risk)
	return alert, nil
}

func (s *Service) raiseSmall(ctx context.Context, patientID string) error {
	alert, err := s.createAlert(ctx, patientID, models.AlertTypeSmall)
	if err != nil {
		return err
	}
	slog.Info("small alert raised", "patient_id", patientID, "alert_id", alert.ID)
	return nil
}

func (s *Service) createAlert(ctx context.Context, patientID string, atype models.AlertType) (*models.Alert, error) {
	now := s.now()
	alert := &models.Alert{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Type:      atype,
		Resolved:  false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.alerts.AddAlert(ctx, alert); err != nil {
		return nil, err
	}
	if s.broadcaster != nil {
		s.broadcaster.Broadcast(alert)
	}
	return alert, nil
}

// ResolveAlert flips an alert to resolved. Resolving a BIG alert
// sweeps the patient's unresolved SMALL alerts along in one
// transaction. Resolving a SMALL alert while an unresolved BIG alert
// exists is a soft rejection: (false, nil), nothing mutates.
func (s *Service) ResolveAlert(ctx context.Context, id string) (bool, error) {
	alert, err := s.alerts.GetAlert(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, ErrAlertNotFound
	}
	if err != nil {
		return false, err
	}
	if alert.Resolved {
		return false, ErrAlreadyResolved
	}

	unlock := s.locks.lock(alert.PatientID)
	defer unlock()

	if alert.Type == models.AlertTypeBig {
		swept, err := s.alerts.ResolveBigCascade(ctx, alert.ID, alert.PatientID)
		if err != nil {
			return false, err
		}
		slog.Info("big alert resolved", "alert_id", alert.ID, "patient_id", alert.PatientID, "small_alerts_swept", swept)
		return true, nil
	}

	big, err := s.unresolvedBig(ctx, alert.PatientID)
	if err != nil {
		return false, err
	}
	if big != nil {
		slog.Info("cannot resolve small alert, unresolved big alert exists", "alert_id", alert.ID, "patient_id", alert.PatientID)
		return false, nil
	}

	if err := s.alerts.ResolveAlert(ctx, alert.ID); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteAlert removes an alert unconditionally. This is an
// administrative override, not a lifecycle transition: no cascade, no
// gating.
func (s *Service) DeleteAlert(ctx context.Context, id string) error {
	return s.alerts.DeleteAlert(ctx, id)
}

func (s *Service) AlertByID(ctx context.Context, id string) (*models.Alert, error) {
	alert, err := s.alerts.GetAlert(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAlertNotFound
	}
	return alert, err
}

func (s *Service) AlertsForPatient(ctx context.Context, patientID string) ([]models.Alert, error) {
	return s.alerts.ListAlerts(ctx, patientID, repository.AlertFilter{})
}

func (s *Service) UnresolvedAlertsForPatient(ctx context.Context, patientID string) ([]models.Alert, error) {
	unresolved := false
	return s.alerts.ListAlerts(ctx, patientID, repository.AlertFilter{Resolved: &unresolved})
}

func (s *Service) AllAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.alerts.ListAllAlerts(ctx)
}

func (s *Service) unresolvedBig(ctx context.Context, patientID string) (*models.Alert, error) {
	alert, err := s.alerts.FindUnresolvedBig(ctx, patientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying unresolved big alert: %w", err)
	}
	return alert, nil
}

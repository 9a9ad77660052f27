package api

import (
	"time"

	"github.com/mr1hm/go-liver-alerts/internal/models"
)

type patientResponse struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Sex         string    `json:"sex"`
	Race        string    `json:"race,omitempty"`
	DateOfBirth string    `json:"dateOfBirth"`
	CreatedAt   time.Time `json:"createdAt"`
}

type measurementResponse struct {
	ID         string    `json:"id"`
	PatientID  string    `json:"patientId"`
	Type       string    `json:"type"`
	Value      float64   `json:"value"`
	MeasuredAt time.Time `json:"measuredAt"`
	CreatedAt  time.Time `json:"createdAt"`
}

type alertResponse struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId"`
	Type      string    `json:"type"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toPatientResponse(p models.Patient) patientResponse {
	return patientResponse{
		ID:          p.ID,
		Role:        string(p.Role),
		Sex:         string(p.Sex),
		Race:        p.Race,
		DateOfBirth: p.DateOfBirth.Format("2006-01-02"),
		CreatedAt:   p.CreatedAt,
	}
}

func toMeasurementResponse(m models.Measurement) measurementResponse {
	return measurementResponse{
		ID:         m.ID,
		PatientID:  m.PatientID,
		Type:       string(m.Type),
		Value:      m.Value,
		MeasuredAt: m.MeasuredAt,
		CreatedAt:  m.CreatedAt,
	}
}

func toMeasurementResponses(measurements []models.Measurement) []measurementResponse {
	out := make([]measurementResponse, 0, len(measurements))
	for _, m := range measurements {
		out = append(out, toMeasurementResponse(m))
	}
	return out
}

func toAlertResponse(a models.Alert) alertResponse {
	return alertResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		Type:      string(a.Type),
		Resolved:  a.Resolved,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAlertResponses(alerts []models.Alert) []alertResponse {
	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}
	return out
}

package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mr1hm/go-liver-alerts/internal/alerting"
	"github.com/mr1hm/go-liver-alerts/internal/models"
	"github.com/mr1hm/go-liver-alerts/internal/notify"
	"github.com/mr1hm/go-liver-alerts/internal/repository"
)

type Handler struct {
	patients     repository.PatientRepository
	measurements repository.MeasurementRepository
	svc          *alerting.Service
	broadcaster  *notify.Broadcaster
}

func NewHandler(
	patients repository.PatientRepository,
	measurements repository.MeasurementRepository,
	svc *alerting.Service,
	broadcaster *notify.Broadcaster,
) *Handler {
	return &Handler{
		patients:     patients,
		measurements: measurements,
		svc:          svc,
		broadcaster:  broadcaster,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	r.POST("/api/patients", h.createPatient)
	r.GET("/api/patients", h.listPatients)
	r.GET("/api/patients/:id", h.getPatient)
	r.DELETE("/api/patients/:id", h.deletePatient)
	r.GET("/api/patients/:id/measurements", h.listPatientMeasurements)
	r.GET("/api/patients/:id/alerts", h.listPatientAlerts)
	r.GET("/api/patients/:id/alerts/unresolved", h.listPatientUnresolvedAlerts)

	r.POST("/api/measurements", h.createMeasurement)
	r.GET("/api/measurements", h.listMeasurements)
	r.GET("/api/measurements/:id", h.getMeasurement)
	r.DELETE("/api/measurements/:id", h.deleteMeasurement)

	r.GET("/api/alerts", h.listAlerts)
	r.GET("/api/alerts/stream", h.streamAlerts)
	r.GET("/api/alerts/:id", h.getAlert)
	r.POST("/api/alerts/resolve", h.resolveAlert)
	r.DELETE("/api/alerts/:id", h.deleteAlert)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createPatientRequest struct {
	Sex         models.Sex  `json:"sex" binding:"required,oneof=MALE FEMALE"`
	DateOfBirth string      `json:"dateOfBirth" binding:"required"`
	Role        models.Role `json:"role" binding:"omitempty,oneof=PATIENT MEDICAL_DOCTOR"`
	Race        string      `json:"race"`
}

func (h *Handler) createPatient(c *gin.Context) {
	var req createPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dob, err := time.Parse("2006-01-02", req.DateOfBirth)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dateOfBirth must be YYYY-MM-DD"})
		return
	}

	role := req.Role
	if role == "" {
		role = models.RolePatient
	}
	patient := &models.Patient{
		ID:          uuid.NewString(),
		Role:        role,
		Sex:         req.Sex,
		Race:        req.Race,
		DateOfBirth: dob,
		CreatedAt:   time.Now(),
	}
	if err := h.patients.AddPatient(c.Request.Context(), patient); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create patient"})
		return
	}
	c.JSON(http.StatusCreated, toPatientResponse(*patient))
}

func (h *Handler) listPatients(c *gin.Context) {
	patients, err := h.patients.ListPatients(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch patients"})
		return
	}
	out := make([]patientResponse, 0, len(patients))
	for _, p := range patients {
		out = append(out, toPatientResponse(p))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getPatient(c *gin.Context) {
	patient, err := h.patients.GetPatient(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch patient"})
		return
	}
	c.JSON(http.StatusOK, toPatientResponse(*patient))
}

func (h *Handler) deletePatient(c *gin.Context) {
	if err := h.patients.DeletePatient(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete patient"})
		return
	}
	c.Status(http.StatusNoContent)
}

type createMeasurementRequest struct {
	PatientID  string                 `json:"patientId" binding:"required"`
	Type       models.MeasurementType `json:"type" binding:"required,oneof=ALT FIBROSIS"`
	Value      *float64               `json:"value" binding:"required"`
	MeasuredAt string                 `json:"measuredAt"`
}

func (h *Handler) createMeasurement(c *gin.Context) {
	var req createMeasurementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var measuredAt time.Time
	if req.MeasuredAt != "" {
		t, err := time.Parse(time.RFC3339, req.MeasuredAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "measuredAt must be RFC 3339"})
			return
		}
		measuredAt = t
	}

	m, err := h.svc.RecordMeasurement(c.Request.Context(), req.PatientID, req.Type, *req.Value, measuredAt)
	if errors.Is(err, alerting.ErrPatientNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record measurement"})
		return
	}
	c.JSON(http.StatusCreated, toMeasurementResponse(*m))
}

func (h *Handler) listMeasurements(c *gin.Context) {
	measurements, err := h.measurements.ListMeasurements(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch measurements"})
		return
	}
	c.JSON(http.StatusOK, toMeasurementResponses(measurements))
}

func (h *Handler) getMeasurement(c *gin.Context) {
	m, err := h.measurements.GetMeasurement(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "measurement not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch measurement"})
		return
	}
	c.JSON(http.StatusOK, toMeasurementResponse(*m))
}

func (h *Handler) deleteMeasurement(c *gin.Context) {
	if err := h.measurements.DeleteMeasurement(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete measurement"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listPatientMeasurements(c *gin.Context) {
	measurements, err := h.measurements.ListMeasurementsByPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch measurements"})
		return
	}
	c.JSON(http.StatusOK, toMeasurementResponses(measurements))
}

func (h *Handler) listAlerts(c *gin.Context) {
	alerts, err := h.svc.AllAlerts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	c.JSON(http.StatusOK, toAlertResponses(alerts))
}

func (h *Handler) getAlert(c *gin.Context) {
	alert, err := h.svc.AlertByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, alerting.ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alert"})
		return
	}
	c.JSON(http.StatusOK, toAlertResponse(*alert))
}

func (h *Handler) listPatientAlerts(c *gin.Context) {
	alerts, err := h.svc.AlertsForPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	c.JSON(http.StatusOK, toAlertResponses(alerts))
}

func (h *Handler) listPatientUnresolvedAlerts(c *gin.Context) {
	alerts, err := h.svc.UnresolvedAlertsForPatient(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch alerts"})
		return
	}
	c.JSON(http.StatusOK, toAlertResponses(alerts))
}

type resolveAlertRequest struct {
	AlertID string `json:"alertId" binding:"required"`
}

func (h *Handler) resolveAlert(c *gin.Context) {
	var req resolveAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolved, err := h.svc.ResolveAlert(c.Request.Context(), req.AlertID)
	switch {
	case errors.Is(err, alerting.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case errors.Is(err, alerting.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "alert already resolved"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve alert"})
	case !resolved:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "cannot resolve alert: small alerts cannot be resolved while a big alert is unresolved",
		})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "alert resolved"})
	}
}

func (h *Handler) deleteAlert(c *gin.Context) {
	if err := h.svc.DeleteAlert(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete alert"})
		return
	}
	c.Status(http.StatusNoContent)
}

// streamAlerts pushes newly raised alerts to the client as
// server-sent events until the client goes away.
func (h *Handler) streamAlerts(c *gin.Context) {
	if h.broadcaster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "streaming disabled"})
		return
	}

	id, ch := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(id)

	c.Stream(func(w io.Writer) bool {
		select {
		case alert, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("alert", toAlertResponse(*alert))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-liver-alerts/internal/alerting"
	"github.com/mr1hm/go-liver-alerts/internal/repository"
)

var testNow = time.Date(2056, 6, 15, 0, 0, 0, 0, time.UTC)

func setupTestRouter(t *testing.T) (*gin.Engine, *repository.SQLiteDB) {
	t.Helper()
	db, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	svc := alerting.NewService(db, db, db, nil, func() time.Time { return testNow })

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHandler(db, db, svc, nil)
	handler.RegisterRoutes(router)
	return router, db
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTestPatient(t *testing.T, router *gin.Engine, sex string) string {
	t.Helper()
	w := doJSON(t, router, "POST", "/api/patients", gin.H{
		"sex":         sex,
		"dateOfBirth": "1970-01-01",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating patient, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.ID
}

func TestCreatePatient_Validation(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "POST", "/api/patients", gin.H{"sex": "OTHER", "dateOfBirth": "1970-01-01"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid sex, got %d", w.Code)
	}

	w = doJSON(t, router, "POST", "/api/patients", gin.H{"sex": "MALE", "dateOfBirth": "01/01/1970"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid date, got %d", w.Code)
	}
}

func TestCreateMeasurement_RaisesSmallAlert(t *testing.T) {
	router, _ := setupTestRouter(t)
	patientID := createTestPatient(t, router, "MALE")

	w := doJSON(t, router, "POST", "/api/measurements", gin.H{
		"patientId": patientID,
		"type":      "ALT",
		"value":     50,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "GET", "/api/patients/"+patientID+"/alerts/unresolved", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var alerts []alertResponse
	json.Unmarshal(w.Body.Bytes(), &alerts)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 unresolved alert, got %d", len(alerts))
	}
	if alerts[0].Type != "SMALL" {
		t.Errorf("expected SMALL alert, got %s", alerts[0].Type)
	}
}

func TestCreateMeasurement_UnknownPatient(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "POST", "/api/measurements", gin.H{
		"patientId": "nope",
		"type":      "ALT",
		"value":     50,
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCreateMeasurement_ZeroValueAccepted(t *testing.T) {
	router, _ := setupTestRouter(t)
	patientID := createTestPatient(t, router, "MALE")

	// value 0 is a legitimate reading, not a missing field
	w := doJSON(t, router, "POST", "/api/measurements", gin.H{
		"patientId": patientID,
		"type":      "ALT",
		"value":     0,
	})
	if w.Code != http.StatusCreated {
		t.Errorf("expected 201 for zero value, got %d: %s", w.Code, w.Body.String())
	}
}

func TestResolveAlert_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "POST", "/api/alerts/resolve", gin.H{"alertId": "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestResolveAlert_Flow(t *testing.T) {
	router, _ := setupTestRouter(t)
	patientID := createTestPatient(t, router, "MALE")

	doJSON(t, router, "POST", "/api/measurements", gin.H{
		"patientId": patientID,
		"type":      "ALT",
		"value":     50,
	})

	w := doJSON(t, router, "GET", "/api/patients/"+patientID+"/alerts/unresolved", nil)
	var alerts []alertResponse
	json.Unmarshal(w.Body.Bytes(), &alerts)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	w = doJSON(t, router, "POST", "/api/alerts/resolve", gin.H{"alertId": alerts[0].ID})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Second resolve of the same alert conflicts.
	w = doJSON(t, router, "POST", "/api/alerts/resolve", gin.H{"alertId": alerts[0].ID})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for already resolved, got %d", w.Code)
	}
}

func TestDeleteAlert(t *testing.T) {
	router, _ := setupTestRouter(t)
	patientID := createTestPatient(t, router, "FEMALE")

	doJSON(t, router, "POST", "/api/measurements", gin.H{
		"patientId": patientID,
		"type":      "FIBROSIS",
		"value":     2,
	})

	w := doJSON(t, router, "GET", "/api/patients/"+patientID+"/alerts", nil)
	var alerts []alertResponse
	json.Unmarshal(w.Body.Bytes(), &alerts)
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}

	w = doJSON(t, router, "DELETE", "/api/alerts/"+alerts[0].ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}

	w = doJSON(t, router, "GET", "/api/alerts/"+alerts[0].ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", w.Code)
	}
}

func TestGetPatientMeasurements(t *testing.T) {
	router, _ := setupTestRouter(t)
	patientID := createTestPatient(t, router, "MALE")

	for _, at := range []string{"2056-01-01T09:00:00Z", "2056-02-01T09:00:00Z"} {
		w := doJSON(t, router, "POST", "/api/measurements", gin.H{
			"patientId":  patientID,
			"type":       "ALT",
			"value":      40,
			"measuredAt": at,
		})
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", w.Code)
		}
	}

	w := doJSON(t, router, "GET", "/api/patients/"+patientID+"/measurements", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var measurements []measurementResponse
	json.Unmarshal(w.Body.Bytes(), &measurements)
	if len(measurements) != 2 {
		t.Errorf("expected 2 measurements, got %d", len(measurements))
	}
}

func TestHealth(t *testing.T) {
	router, _ := setupTestRouter(t)

	w := doJSON(t, router, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

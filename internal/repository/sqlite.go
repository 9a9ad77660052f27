package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mr1hm/go-liver-alerts/internal/models"
)

type SQLiteDB struct {
	db *sql.DB
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error while pinging database: %w", err)
	}

	s := &SQLiteDB{
		db: db,
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("error while migrating to database: %w", err)
	}

	return s, nil
}

func (s *SQLiteDB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS patients (
			id TEXT PRIMARY KEY,
			role TEXT NOT NULL,
			sex TEXT NOT NULL,
			race TEXT,
			date_of_birth DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS measurements (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			type TEXT NOT NULL,
			value REAL NOT NULL,
			measured_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (patient_id) REFERENCES patients(id)
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			patient_id TEXT NOT NULL,
			type TEXT NOT NULL,
			resolved INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			FOREIGN KEY (patient_id) REFERENCES patients(id)
		);

		CREATE INDEX IF NOT EXISTS idx_measurements_patient ON measurements(patient_id, measured_at);
		CREATE INDEX IF NOT EXISTS idx_alerts_patient ON alerts(patient_id);

		-- At most one unresolved BIG alert per patient, enforced at the
		-- store so concurrent writers cannot slip a duplicate past the
		-- service-level gate.
		CREATE UNIQUE INDEX IF NOT EXISTS uq_alerts_unresolved_big
			ON alerts(patient_id) WHERE type = 'BIG' AND resolved = 0;
  	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func (s *SQLiteDB) AddPatient(ctx context.Context, p *models.Patient) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO patients (id, role, sex, race, date_of_birth, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, string(p.Role), string(p.Sex), p.Race, p.DateOfBirth.UTC(), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("error inserting patient: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetPatient(ctx context.Context, id string) (*models.Patient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, role, sex, race, date_of_birth, created_at FROM patients WHERE id = ?`, id)

	var p models.Patient
	var race sql.NullString
	err := row.Scan(&p.ID, &p.Role, &p.Sex, &race, &p.DateOfBirth, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning patient: %w", err)
	}
	p.Race = race.String
	return &p, nil
}

func (s *SQLiteDB) ListPatients(ctx context.Context) ([]models.Patient, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, sex, race, date_of_birth, created_at FROM patients ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("error listing patients: %w", err)
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		var p models.Patient
		var race sql.NullString
		if err := rows.Scan(&p.ID, &p.Role, &p.Sex, &race, &p.DateOfBirth, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning patient: %w", err)
		}
		p.Race = race.String
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (s *SQLiteDB) DeletePatient(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) AddMeasurement(ctx context.Context, m *models.Measurement) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO measurements (id, patient_id, type, value, measured_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.PatientID, string(m.Type), m.Value, m.MeasuredAt.UTC(), m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("error inserting measurement: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetMeasurement(ctx context.Context, id string) (*models.Measurement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, type, value, measured_at, created_at FROM measurements WHERE id = ?`, id)

	var m models.Measurement
	err := row.Scan(&m.ID, &m.PatientID, &m.Type, &m.Value, &m.MeasuredAt, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning measurement: %w", err)
	}
	return &m, nil
}

func (s *SQLiteDB) ListMeasurementsByPatient(ctx context.Context, patientID string) ([]models.Measurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, type, value, measured_at, created_at
		 FROM measurements WHERE patient_id = ? ORDER BY measured_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("error listing measurements: %w", err)
	}
	defer rows.Close()
	return scanMeasurements(rows)
}

func (s *SQLiteDB) ListMeasurements(ctx context.Context) ([]models.Measurement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, type, value, measured_at, created_at FROM measurements ORDER BY measured_at`)
	if err != nil {
		return nil, fmt.Errorf("error listing measurements: %w", err)
	}
	defer rows.Close()
	return scanMeasurements(rows)
}

func scanMeasurements(rows *sql.Rows) ([]models.Measurement, error) {
	var measurements []models.Measurement
	for rows.Next() {
		var m models.Measurement
		if err := rows.Scan(&m.ID, &m.PatientID, &m.Type, &m.Value, &m.MeasuredAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning measurement: %w", err)
		}
		measurements = append(measurements, m)
	}
	return measurements, rows.Err()
}

func (s *SQLiteDB) DeleteMeasurement(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM measurements WHERE id = ?`, id)
	return err
}

func (s *SQLiteDB) AddAlert(ctx context.Context, a *models.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, patient_id, type, resolved, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatientID, string(a.Type), boolToInt(a.Resolved), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("error inserting alert: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, type, resolved, created_at, updated_at FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

func (s *SQLiteDB) ListAlerts(ctx context.Context, patientID string, f AlertFilter) ([]models.Alert, error) {
	query := `SELECT id, patient_id, type, resolved, created_at, updated_at FROM alerts WHERE patient_id = ?`
	args := []any{patientID}

	if f.Type != nil {
		query += ` AND type = ?`
		args = append(args, string(*f.Type))
	}
	if f.Resolved != nil {
		query += ` AND resolved = ?`
		args = append(args, boolToInt(*f.Resolved))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *SQLiteDB) ListAllAlerts(ctx context.Context) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, type, resolved, created_at, updated_at FROM alerts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("error listing alerts: %w", err)
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *SQLiteDB) FindUnresolvedBig(ctx context.Context, patientID string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, patient_id, type, resolved, created_at, updated_at
		 FROM alerts WHERE patient_id = ? AND type = 'BIG' AND resolved = 0`, patientID)
	return scanAlert(row)
}

func (s *SQLiteDB) ResolveAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET resolved = 1, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("error resolving alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteDB) ResolveBigCascade(ctx context.Context, id, patientID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE alerts SET resolved = 1, updated_at = ?
		 WHERE patient_id = ? AND type = 'SMALL' AND resolved = 0`, now, patientID)
	if err != nil {
		return 0, fmt.Errorf("error resolving small alerts: %w", err)
	}
	swept, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE alerts SET resolved = 1, updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return 0, fmt.Errorf("error resolving big alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("error committing resolve: %w", err)
	}
	return swept, nil
}

func (s *SQLiteDB) DeleteAlert(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	return err
}

// IsUniqueViolation reports whether err is sqlite's unique-constraint
// failure, e.g. a second unresolved BIG alert hitting
// uq_alerts_unresolved_big.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func scanAlert(row *sql.Row) (*models.Alert, error) {
	var a models.Alert
	var resolved int
	err := row.Scan(&a.ID, &a.PatientID, &a.Type, &resolved, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning alert: %w", err)
	}
	a.Resolved = resolved != 0
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]models.Alert, error) {
	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var resolved int
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Type, &resolved, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning alert: %w", err)
		}
		a.Resolved = resolved != 0
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

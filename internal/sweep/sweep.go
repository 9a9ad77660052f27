// Package sweep periodically re-runs the escalation check for every
// patient. The measurement path already evaluates escalation
// synchronously; the sweep catches progressions completed by
// backdated intake, where the triggering pair predates measurements
// recorded later.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mr1hm/go-liver-alerts/internal/alerting"
	"github.com/mr1hm/go-liver-alerts/internal/config"
	"github.com/mr1hm/go-liver-alerts/internal/repository"
	"github.com/mr1hm/go-liver-alerts/internal/worker"
)

type Manager struct {
	cfg      *config.Config
	patients repository.PatientRepository
	svc      *alerting.Service
	pool     *worker.WorkerPool
	wg       sync.WaitGroup
}

func NewManager(cfg *config.Config, patients repository.PatientRepository, svc *alerting.Service) *Manager {
	return &Manager{
		cfg:      cfg,
		patients: patients,
		svc:      svc,
	}
}

func (m *Manager) Start(ctx context.Context) {
	processor := func(ctx context.Context, job worker.Job) error {
		patientID := job.(string)

		alert, err := m.svc.EvaluateEscalation(ctx, patientID)
		if err != nil {
			slog.Error("sweep evaluation failed", "patient_id", patientID, "error", err)
			return err
		}
		if alert != nil {
			slog.Debug("sweep found unresolved big alert", "patient_id", patientID, "alert_id", alert.ID)
		}
		return nil
	}

	m.pool = worker.NewWorkerPool(m.cfg.Worker.Count, m.cfg.Worker.BufferSize, processor)
	m.pool.Start(ctx)

	if m.cfg.Sweep.Enabled {
		m.wg.Add(1)
		go m.run(ctx, m.cfg.Sweep.Interval)
	}
}

func (m *Manager) run(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()
	slog.Info("starting escalation sweep", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("escalation sweep shutting down")
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Manager) sweep(ctx context.Context) {
	patients, err := m.patients.ListPatients(ctx)
	if err != nil {
		slog.Error("sweep failed to list patients", "error", err)
		return
	}

	for _, p := range patients {
		select {
		case <-ctx.Done():
			return
		default:
			m.pool.Submit(p.ID)
		}
	}

	slog.Debug("sweep complete", "patients", len(patients))
}

func (m *Manager) Stop() {
	m.wg.Wait()
	m.pool.Stop()
	slog.Info("escalation sweep stopped")
}

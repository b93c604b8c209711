// providersim is a stub GPU compute provider implementing the job API the
// engine's compute client speaks. Jobs complete after a fixed delay on a
// bounded worker pool, which makes it useful for local development and
// integration testing without a real provider account.
// Usage: go run ./cmd/providersim
package main

import (
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"runforge/internal/model"
)

const defaultWorkers = 4

// simJob is one tracked job in the simulator.
type simJob struct {
	ID     string
	Status model.ProviderStatus
	Input  json.RawMessage
	Start  time.Time
}

// simulator owns the in-memory job table and the worker pool. Jobs move
// IN_QUEUE -> IN_PROGRESS -> COMPLETED unless cancelled first.
type simulator struct {
	mu     sync.Mutex
	jobs   map[string]*simJob
	queue  chan string
	delay  time.Duration
	logger *slog.Logger
}

func newSimulator(delay time.Duration, workers int, logger *slog.Logger) *simulator {
	s := &simulator{
		jobs:   make(map[string]*simJob),
		queue:  make(chan string, 256),
		delay:  delay,
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

// worker drains the queue, running one job at a time so failures stay
// observable in the job table rather than vanishing with a goroutine.
func (s *simulator) worker() {
	for id := range s.queue {
		s.mu.Lock()
		job, ok := s.jobs[id]
		if !ok || job.Status != model.ProviderInQueue {
			s.mu.Unlock()
			continue
		}
		job.Status = model.ProviderInProgress
		s.mu.Unlock()

		time.Sleep(s.delay)

		s.mu.Lock()
		// A cancel may have landed while we slept; first terminal wins.
		if job.Status == model.ProviderInProgress {
			job.Status = model.ProviderCompleted
			s.logger.Info("job completed", "job_id", id)
		}
		s.mu.Unlock()
	}
}

func (s *simulator) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var input json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	job := &simJob{
		ID:     model.NewID(),
		Status: model.ProviderInQueue,
		Input:  input,
		Start:  time.Now(),
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	select {
	case s.queue <- job.ID:
	default:
		http.Error(w, "queue full", http.StatusTooManyRequests)
		return
	}

	s.logger.Info("job accepted", "job_id", job.ID, "endpoint", chi.URLParam(r, "endpoint"))
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *simulator) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	status := job.Status
	input := job.Input
	elapsed := int(time.Since(job.Start).Milliseconds())
	s.mu.Unlock()

	resp := map[string]any{"status": status}
	if status == model.ProviderCompleted {
		// Echo the input back as the "result" of the simulated run.
		resp["output"] = map[string]any{"echo": input}
		resp["execution_time_ms"] = elapsed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *simulator) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	switch job.Status {
	case model.ProviderCompleted, model.ProviderFailed, model.ProviderCancelled, model.ProviderTimedOut:
		http.Error(w, "job already finished", http.StatusConflict)
		return
	}

	job.Status = model.ProviderCancelled
	s.logger.Info("job cancelled", "job_id", id)
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func main() {
	addr := ":9090"
	if v := os.Getenv("PROVIDERSIM_LISTEN_ADDR"); v != "" {
		addr = v
	}
	delay := time.Second
	if v := os.Getenv("PROVIDERSIM_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			delay = time.Duration(n) * time.Millisecond
		}
	}
	workers := defaultWorkers
	if v := os.Getenv("PROVIDERSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			workers = n
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	sim := newSimulator(delay, workers, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/v1/endpoints/{endpoint}/jobs", func(r chi.Router) {
		r.Post("/", sim.handleSubmit)
		r.Get("/{id}", sim.handleStatus)
		r.Post("/{id}/cancel", sim.handleCancel)
	})

	logger.Info("providersim listening", "addr", addr, "delay", delay.String(), "workers", workers)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/logging"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobRequest is the request body for POST /jobs: one document rendered to
// several formats in the background.
type JobRequest struct {
	Document *xats.Document    `json:"document"`
	Formats  []string          `json:"formats"`
	Options  map[string]string `json:"options,omitempty"`
}

// Job represents an asynchronous batch conversion job.
type Job struct {
	ID          string                             `json:"id"`
	Status      JobStatus                          `json:"status"`
	Progress    int                                `json:"progress"` // 0-100
	Formats     []string                           `json:"formats"`
	Results     map[string]*converter.RenderResult `json:"results,omitempty"`
	Error       string                             `json:"error,omitempty"`
	CreatedAt   string                             `json:"created_at"`
	UpdatedAt   string                             `json:"updated_at"`
	CompletedAt string                             `json:"completed_at,omitempty"`

	document *xats.Document
	options  map[string]string
	ctx      context.Context
	cancel   context.CancelFunc
}

// JobStore manages conversion jobs in memory.
type JobStore struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewJobStore creates a new job store.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
	}
}

var globalJobStore = NewJobStore()

// Create creates a new job and returns it.
func (s *JobStore) Create(req JobRequest) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC().Format(time.RFC3339)

	job := &Job{
		ID:        uuid.New().String(),
		Status:    JobStatusPending,
		Progress:  0,
		Formats:   req.Formats,
		Results:   make(map[string]*converter.RenderResult),
		CreatedAt: now,
		UpdatedAt: now,
		document:  req.Document,
		options:   req.Options,
		ctx:       ctx,
		cancel:    cancel,
	}

	s.jobs[job.ID] = job
	return job
}

// Get retrieves a job by ID.
func (s *JobStore) Get(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	return job, exists
}

// Snapshot returns a copy of a job safe to read while the job is still
// being worked on.
func (s *JobStore) Snapshot(id string) (*Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

func (j *Job) snapshot() *Job {
	copied := *j
	copied.Formats = append([]string(nil), j.Formats...)
	copied.Results = make(map[string]*converter.RenderResult, len(j.Results))
	for format, result := range j.Results {
		copied.Results[format] = result
	}
	return &copied
}

// Update updates a job's status and progress.
func (s *JobStore) Update(id string, status JobStatus, progress int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	job.Status = status
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if errMsg != "" {
		job.Error = errMsg
	}
	if status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled {
		job.CompletedAt = job.UpdatedAt
	}

	return nil
}

// AddResult records one format's render result on a job.
func (s *JobStore) AddResult(id, format string, result *converter.RenderResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, exists := s.jobs[id]; exists {
		job.Results[format] = result
	}
}

// Delete removes a job from the store, cancelling it if still active.
func (s *JobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	if job.Status == JobStatusRunning || job.Status == JobStatusPending {
		if job.cancel != nil {
			job.cancel()
		}
	}

	delete(s.jobs, id)
	return nil
}

// List returns a snapshot of all jobs.
func (s *JobStore) List() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// Cancel cancels a pending or running job.
func (s *JobStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	if job.Status != JobStatusPending && job.Status != JobStatusRunning {
		return fmt.Errorf("job cannot be cancelled (status: %s)", job.Status)
	}

	if job.cancel != nil {
		job.cancel()
	}

	now := time.Now().UTC().Format(time.RFC3339)
	job.Status = JobStatusCancelled
	job.UpdatedAt = now
	job.CompletedAt = now

	return nil
}

// runJob renders the job's document to every requested format in a
// goroutine, reporting progress over the WebSocket hub.
func runJob(job *Job) {
	go func() {
		globalJobStore.Update(job.ID, JobStatusRunning, 0, "")
		logging.JobEvent(job.ID, string(JobStatusRunning), "formats", len(job.Formats))

		failures := 0
		for i, format := range job.Formats {
			select {
			case <-job.ctx.Done():
				globalJobStore.Update(job.ID, JobStatusCancelled, i*100/len(job.Formats), "Job cancelled by user")
				logging.JobEvent(job.ID, string(JobStatusCancelled))
				BroadcastError("convert", "Job cancelled")
				return
			default:
			}

			BroadcastProgress("convert", format, fmt.Sprintf("Rendering %s", format), i*100/len(job.Formats))

			c, optWarnings, err := BuildConverter(format, job.options)
			if err != nil {
				failures++
				globalJobStore.AddResult(job.ID, format, &converter.RenderResult{
					Errors: []converter.ConversionError{{
						Code:        converter.CodeInvalidFormat,
						Message:     err.Error(),
						Recoverable: false,
					}},
				})
				continue
			}

			result, _, err := renderJobFormat(job.ctx, c, job.document, job.options)
			if err != nil {
				failures++
				globalJobStore.Update(job.ID, JobStatusRunning, (i+1)*100/len(job.Formats), err.Error())
				continue
			}
			result.Warnings = append(result.Warnings, optWarnings...)
			if !result.OK() {
				failures++
			}
			globalJobStore.AddResult(job.ID, format, result)
			globalJobStore.Update(job.ID, JobStatusRunning, (i+1)*100/len(job.Formats), "")
		}

		status := JobStatusCompleted
		errMsg := ""
		if failures == len(job.Formats) {
			status = JobStatusFailed
			errMsg = "all formats failed to render"
		}
		globalJobStore.Update(job.ID, status, 100, errMsg)
		logging.JobEvent(job.ID, string(status), "failures", failures)
		BroadcastComplete("convert", "Batch conversion finished", map[string]interface{}{
			"job_id":   job.ID,
			"failures": failures,
		})
	}()
}

// renderJobFormat renders one format, through the conversion cache when
// configured.
func renderJobFormat(ctx context.Context, c converter.Interface, doc *xats.Document, options map[string]string) (*converter.RenderResult, bool, error) {
	if conversionCache == nil {
		return c.Render(doc), false, nil
	}
	return conversionCache.Render(ctx, c, doc, options)
}

// handleJobs handles POST /jobs (create) and GET /jobs (list).
func handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs := globalJobStore.List()
		response := APIResponse{
			Success: true,
			Data:    jobs,
			Meta: &APIMeta{
				Total:     len(jobs),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)

	case http.MethodPost:
		var req JobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
			return
		}
		if req.Document == nil || len(req.Formats) == 0 {
			respondError(w, http.StatusBadRequest, "MISSING_PARAMS", "document and formats are required")
			return
		}

		job := globalJobStore.Create(req)
		created, _ := globalJobStore.Snapshot(job.ID)
		runJob(job)
		respond(w, http.StatusCreated, created)

	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and POST are allowed")
	}
}

// handleJobByID handles GET /jobs/{id} and DELETE /jobs/{id} (cancel).
func handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "MISSING_ID", "Job ID is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, exists := globalJobStore.Snapshot(id)
		if !exists {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
			return
		}
		respond(w, http.StatusOK, job)

	case http.MethodDelete:
		if err := globalJobStore.Cancel(id); err != nil {
			if strings.Contains(err.Error(), "not found") {
				respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
				return
			}
			respondError(w, http.StatusBadRequest, "CANCEL_FAILED", err.Error())
			return
		}
		respond(w, http.StatusOK, map[string]string{"message": "Job cancelled"})

	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
	}
}

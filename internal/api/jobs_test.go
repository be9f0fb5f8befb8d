package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func waitForJob(t *testing.T, id string, want JobStatus) *Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := globalJobStore.Snapshot(id)
		if !ok {
			t.Fatalf("job %s disappeared", id)
		}
		if job.Status == want {
			return job
		}
		if job.Status == JobStatusFailed && want == JobStatusCompleted {
			t.Fatalf("job failed: %s", job.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach %s", id, want)
	return nil
}

func TestJobStore_Lifecycle(t *testing.T) {
	s := NewJobStore()

	job := s.Create(JobRequest{Document: testDocument(), Formats: []string{"markdown"}})
	if job.ID == "" || job.Status != JobStatusPending {
		t.Fatalf("created job = %+v", job)
	}

	if _, ok := s.Get(job.ID); !ok {
		t.Fatal("job not retrievable")
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("missing job retrievable")
	}

	if err := s.Update(job.ID, JobStatusRunning, 40, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Snapshot(job.ID)
	if got.Status != JobStatusRunning || got.Progress != 40 {
		t.Errorf("after update: %+v", got)
	}
	if got.CompletedAt != "" {
		t.Error("running job has completion time")
	}

	if err := s.Update(job.ID, JobStatusCompleted, 100, ""); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ = s.Snapshot(job.ID)
	if got.CompletedAt == "" {
		t.Error("completed job missing completion time")
	}

	if err := s.Update("missing", JobStatusRunning, 0, ""); err == nil {
		t.Error("Update on missing job succeeded")
	}

	if len(s.List()) != 1 {
		t.Errorf("List() = %d jobs", len(s.List()))
	}

	if err := s.Delete(job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(job.ID); err == nil {
		t.Error("double delete succeeded")
	}
}

func TestJobStore_Cancel(t *testing.T) {
	s := NewJobStore()
	job := s.Create(JobRequest{Document: testDocument(), Formats: []string{"markdown"}})

	if err := s.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := s.Snapshot(job.ID)
	if got.Status != JobStatusCancelled || got.CompletedAt == "" {
		t.Errorf("after cancel: %+v", got)
	}
	select {
	case <-job.ctx.Done():
	default:
		t.Error("cancel did not cancel the job context")
	}

	// A finished job cannot be cancelled again.
	if err := s.Cancel(job.ID); err == nil {
		t.Error("cancelling a cancelled job succeeded")
	}
	if err := s.Cancel("missing"); err == nil {
		t.Error("cancelling a missing job succeeded")
	}
}

func TestJobs_EndToEnd(t *testing.T) {
	ServerConfig.BundlesDir = t.TempDir()
	mux := setupRoutes()

	rec := postJSON(t, mux, "/jobs", JobRequest{
		Document: testDocument(),
		Formats:  []string{"markdown", "latex"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d\n%s", rec.Code, rec.Body.String())
	}
	var created struct {
		Data Job `json:"data"`
	}
	decodeInto(t, rec, &created)
	if created.Data.ID == "" {
		t.Fatal("job ID missing")
	}

	done := waitForJob(t, created.Data.ID, JobStatusCompleted)
	if len(done.Results) != 2 {
		t.Fatalf("results = %d formats", len(done.Results))
	}
	if !strings.Contains(done.Results["markdown"].Content, "## Ice Flow") {
		t.Errorf("markdown result:\n%s", done.Results["markdown"].Content)
	}
	if !strings.Contains(done.Results["latex"].Content, "\\chapter{Ice Flow}") &&
		!strings.Contains(done.Results["latex"].Content, "\\section{Ice Flow}") {
		t.Errorf("latex result:\n%s", done.Results["latex"].Content)
	}

	rec = getPath(t, mux, "/jobs/"+created.Data.ID)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched struct {
		Data Job `json:"data"`
	}
	decodeInto(t, rec, &fetched)
	if fetched.Data.Status != JobStatusCompleted || fetched.Data.Progress != 100 {
		t.Errorf("fetched job = %+v", fetched.Data)
	}

	rec = getPath(t, mux, "/jobs")
	var listing struct {
		Data []Job `json:"data"`
	}
	decodeInto(t, rec, &listing)
	found := false
	for _, job := range listing.Data {
		if job.ID == created.Data.ID {
			found = true
		}
	}
	if !found {
		t.Error("job missing from listing")
	}

	// A completed job cannot be cancelled.
	req := httptest.NewRequest("DELETE", "/jobs/"+created.Data.ID, nil)
	del := httptest.NewRecorder()
	mux.ServeHTTP(del, req)
	assertError(t, del, http.StatusBadRequest, "CANCEL_FAILED")
}

func TestJobs_AllFormatsFail(t *testing.T) {
	ServerConfig.BundlesDir = t.TempDir()
	mux := setupRoutes()

	rec := postJSON(t, mux, "/jobs", JobRequest{
		Document: testDocument(),
		Formats:  []string{"wordperfect"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	var created struct {
		Data Job `json:"data"`
	}
	decodeInto(t, rec, &created)

	failed := waitForJob(t, created.Data.ID, JobStatusFailed)
	if failed.Error == "" {
		t.Error("failed job has no error message")
	}
	result := failed.Results["wordperfect"]
	if result == nil || result.OK() {
		t.Errorf("unknown format result = %+v", result)
	}
}

func TestJobs_BadRequests(t *testing.T) {
	ServerConfig.BundlesDir = t.TempDir()
	mux := setupRoutes()

	rec := postJSON(t, mux, "/jobs", JobRequest{Formats: []string{"markdown"}})
	assertError(t, rec, http.StatusBadRequest, "MISSING_PARAMS")

	rec = getPath(t, mux, "/jobs/does-not-exist")
	assertError(t, rec, http.StatusNotFound, "NOT_FOUND")
}

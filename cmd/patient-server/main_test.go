package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/patientregistry/internal/config"
	"github.com/ehr/patientregistry/internal/domain/patient"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{
		StoreBackend:   config.BackendFile,
		PatientsFile:   filepath.Join(t.TempDir(), "patients.json"),
		CORSOrigins:    []string{"*"},
		BodyLimit:      "1K",
		RequestTimeout: 5 * time.Second,
	}
	return newServer(cfg, zerolog.Nop(), patient.NewFileStore(cfg.PatientsFile))
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_PatientLifecycle(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/patients", `{"name":"Ana","city":"Pune","age":30,"gender":"female","height":1.75,"weight":70}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Patient patient.Patient `json:"patient"`
	}
	json.Unmarshal(rec.Body.Bytes(), &created)
	if created.Patient.ID != "P001" {
		t.Errorf("expected id P001, got %s", created.Patient.ID)
	}
	if created.Patient.BMI != 22.86 || created.Patient.Verdict != patient.VerdictNormal {
		t.Errorf("unexpected derived fields: %v %s", created.Patient.BMI, created.Patient.Verdict)
	}

	rec = do(t, h, http.MethodGet, "/patients/P001", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPut, "/patients/P001", `{"weight":80,"height":1.6}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Patient patient.Patient `json:"patient"`
	}
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if updated.Patient.Verdict != patient.VerdictObese {
		t.Errorf("expected obese after update, got %s", updated.Patient.Verdict)
	}

	rec = do(t, h, http.MethodDelete, "/patients/P001", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/patients/P001", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestServer_StaticRoutesWinOverID(t *testing.T) {
	h := newTestServer(t)

	for _, path := range []string{"/patients/stats", "/patients/sort?sort_by=bmi&order=desc"} {
		rec := do(t, h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestServer_HomeAndHealth(t *testing.T) {
	h := newTestServer(t)

	for _, path := range []string{"/", "/about", "/health", "/health/store"} {
		rec := do(t, h, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestServer_RequestIDHeader(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestServer_ConflictAndValidation(t *testing.T) {
	h := newTestServer(t)

	body := `{"id":"ABC","name":"Ana","city":"Pune","age":30,"gender":"female","height":1.75,"weight":70}`
	if rec := do(t, h, http.MethodPost, "/patients", body); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/patients", body); rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate id, got %d", rec.Code)
	}
	bad := `{"name":"Ana","city":"Pune","age":0,"gender":"female","height":1.75,"weight":70}`
	if rec := do(t, h, http.MethodPost, "/patients", bad); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid age, got %d", rec.Code)
	}
}

func TestServer_OversizedBodyRejected(t *testing.T) {
	h := newTestServer(t)

	body := `{"name":"` + strings.Repeat("a", 2048) + `","city":"Pune","age":30,"gender":"female","height":1.75,"weight":70}`
	if rec := do(t, h, http.MethodPost, "/patients", body); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestServer_OversizedChunkedBodyRejected(t *testing.T) {
	h := newTestServer(t)

	body := `{"name":"` + strings.Repeat("a", 2048) + `","city":"Pune","age":30,"gender":"female","height":1.75,"weight":70}`
	req := httptest.NewRequest(http.MethodPost, "/patients", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestServer_SecurityHeaders(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/patients", "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (patient.Collection, error) {
	return nil, patient.ErrStorage
}

func (failingStore) Save(context.Context, patient.Collection) error {
	return patient.ErrStorage
}

func TestWriteExport(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "patients.xlsx")
	svc := patient.NewService(patient.NewFileStore(filepath.Join(dir, "patients.json")), zerolog.Nop())

	if err := writeExport(context.Background(), svc, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty workbook at %s: %v", out, err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() != "patients.xlsx" {
			t.Errorf("unexpected leftover file %s", e.Name())
		}
	}
}

func TestWriteExport_FailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "patients.xlsx")
	svc := patient.NewService(failingStore{}, zerolog.Nop())

	err := writeExport(context.Background(), svc, out)
	if !errors.Is(err, patient.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected empty directory after failed export, found %d entries", len(entries))
	}
}

func runCLI(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRemoteCommands(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t))
	t.Cleanup(srv.Close)

	out, err := runCLI(t, addCmd(), "--server", srv.URL,
		"--name", "Ana", "--city", "Pune", "--age", "30", "--gender", "female",
		"--height", "1.75", "--weight", "70")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var created patient.Patient
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("add output is not a patient: %v\n%s", err, out)
	}
	if created.ID != "P001" || created.Verdict != patient.VerdictNormal {
		t.Errorf("unexpected patient %+v", created)
	}

	out, err = runCLI(t, getCmd(), "--server", srv.URL, "P001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out, `"name": "Ana"`) {
		t.Errorf("unexpected get output %s", out)
	}

	out, err = runCLI(t, listCmd(), "--server", srv.URL)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed []patient.Patient
	if err := json.Unmarshal([]byte(out), &listed); err != nil || len(listed) != 1 {
		t.Errorf("unexpected list output (%v): %s", err, out)
	}

	out, err = runCLI(t, statsCmd(), "--server", srv.URL)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, `"total_patients": 1`) {
		t.Errorf("unexpected stats output %s", out)
	}

	if _, err := runCLI(t, getCmd(), "--server", srv.URL, "P404"); err == nil {
		t.Error("expected an error for a missing patient")
	}
}

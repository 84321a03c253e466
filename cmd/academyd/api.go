package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/p-n-ai/pai-academy/internal/academy"
)

const readyTimeout = 2 * time.Second

// api exposes one academy store to the local UI.
type api struct {
	store   *academy.Store
	ready   func(ctx context.Context) error
	metrics http.Handler
}

// newMux creates the HTTP router with health, metrics and academy endpoints.
func newMux(a *api) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", a.handleReadyz)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics)
	}

	mux.HandleFunc("GET /v1/courses", a.handleCourses)
	mux.HandleFunc("GET /v1/courses/{id}/lessons", a.handleLessons)
	mux.HandleFunc("PUT /v1/courses/{id}/lessons/{lessonID}/progress", a.handleUpdateProgress)
	mux.HandleFunc("GET /v1/courses/{id}/progress", a.handleProgress)
	mux.HandleFunc("GET /v1/courses/{id}/test", a.handleTest)
	mux.HandleFunc("GET /v1/courses/{id}/test/attempts", a.handleAttempts)
	mux.HandleFunc("POST /v1/courses/{id}/test/attempts", a.handleSaveAttempt)
	mux.HandleFunc("GET /v1/courses/{id}/certificate", a.handleCertificate)
	mux.HandleFunc("PUT /v1/courses/{id}/certificate", a.handleSaveCertificate)
	mux.HandleFunc("GET /v1/onboarding", a.handleOnboarding)
	mux.HandleFunc("PUT /v1/onboarding", a.handleSaveOnboarding)
	mux.HandleFunc("POST /v1/sync/pull", a.handlePull)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *api) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *api) handleCourses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.Courses())
}

func (a *api) handleLessons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.CourseLessons(r.PathValue("id")))
}

type progressRequest struct {
	Completed *bool `json:"completed"`
}

func (a *api) handleUpdateProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Completed == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"completed\": bool}")
		return
	}
	courseID := r.PathValue("id")
	a.store.UpdateLessonProgress(courseID, r.PathValue("lessonID"), *req.Completed)
	writeJSON(w, http.StatusOK, map[string]int{"progress": a.store.CourseProgress(courseID)})
}

func (a *api) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"progress": a.store.CourseProgress(r.PathValue("id"))})
}

type testResponse struct {
	Test      *academy.Test `json:"test"`
	CanRetake bool          `json:"canRetake"`
}

func (a *api) handleTest(w http.ResponseWriter, r *http.Request) {
	courseID := r.PathValue("id")
	test := a.store.CourseTest(courseID)
	if test == nil {
		writeError(w, http.StatusNotFound, "course has no test")
		return
	}
	writeJSON(w, http.StatusOK, testResponse{Test: test, CanRetake: a.store.CanRetakeTest(courseID)})
}

func (a *api) handleAttempts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.store.TestAttempts(r.PathValue("id")))
}

func (a *api) handleSaveAttempt(w http.ResponseWriter, r *http.Request) {
	var attempt academy.TestAttempt
	if err := decodeJSON(w, r, &attempt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if attempt.ID == "" {
		attempt.ID = a.store.NewID()
	}
	if attempt.CompletedAt == "" {
		attempt.CompletedAt = time.Now().UTC().Format(time.RFC3339)
	}
	courseID := r.PathValue("id")
	a.store.SaveTestAttempt(courseID, attempt)
	writeJSON(w, http.StatusCreated, attempt)
}

func (a *api) handleCertificate(w http.ResponseWriter, r *http.Request) {
	cert := a.store.Certificate(r.PathValue("id"))
	if cert == nil {
		writeError(w, http.StatusNotFound, "no certificate")
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (a *api) handleSaveCertificate(w http.ResponseWriter, r *http.Request) {
	var cert academy.Certificate
	if err := decodeJSON(w, r, &cert); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cert.ID == "" {
		cert.ID = a.store.NewID()
	}
	a.store.SaveCertificate(r.PathValue("id"), cert)
	writeJSON(w, http.StatusOK, cert)
}

func (a *api) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	data := a.store.Onboarding(r.Context())
	if data == nil {
		writeError(w, http.StatusNotFound, "no onboarding data")
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *api) handleSaveOnboarding(w http.ResponseWriter, r *http.Request) {
	var data academy.OnboardingData
	if err := decodeJSON(w, r, &data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !a.store.SaveOnboarding(r.Context(), data) {
		writeError(w, http.StatusBadGateway, "onboarding was not saved")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"saved": true})
}

func (a *api) handlePull(w http.ResponseWriter, r *http.Request) {
	snap, err := a.store.Pull(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]int{"courses": len(snap.Courses)})
	case errors.Is(err, academy.ErrNoUser), errors.Is(err, academy.ErrNoSyncer):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

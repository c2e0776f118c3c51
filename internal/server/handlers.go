package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/ironsheep/scene-dispatcher/internal/imaging"
	"github.com/ironsheep/scene-dispatcher/internal/inference"
	"github.com/ironsheep/scene-dispatcher/internal/logging"
)

// SuccessMessage is the body of a successful /segment reply.
const SuccessMessage = "Inference completed successfully."

// StatusResponse is the /status body.
type StatusResponse struct {
	ActiveJobs  int    `json:"active_jobs"`
	WaitingJobs int    `json:"waiting_jobs"`
	MaxJobs     int    `json:"max_jobs"`
	Version     string `json:"version"`
}

// handleSegment runs one scene job.
//
// Parameters image_path and output_path come from the query string or a form
// body. The request waits at the gate for a free slot, then runs the job to
// completion: the job context is detached from the request, so a client that
// disconnects does not abort a job in progress.
func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	imagePath := r.FormValue("image_path")
	outputPath := r.FormValue("output_path")
	if imagePath == "" || outputPath == "" {
		writeText(w, http.StatusBadRequest, "image_path and output_path are required")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if err := s.gate.Acquire(ctx); err != nil {
		writeText(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer s.gate.Release()

	logging.Debugf("Received inference request with image path: %s and output path: %s", imagePath, outputPath)

	if err := s.runner.Run(ctx, imagePath, outputPath); err != nil {
		logging.Errorf("Inference failed for %s: %v", imagePath, err)
		writeText(w, errorStatus(err), err.Error())
		return
	}

	writeText(w, http.StatusOK, SuccessMessage)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(StatusResponse{
		ActiveJobs:  s.gate.Active(),
		WaitingJobs: s.gate.Waiting(),
		MaxJobs:     s.gate.Max(),
		Version:     s.opts.Version,
	}); err != nil {
		logging.Warningf("Failed to encode status: %v", err)
	}
}

// errorStatus maps a job error to an HTTP status code.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, imaging.ErrInvalidGeometry), errors.Is(err, imaging.ErrSourceUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, inference.ErrInferenceExhausted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

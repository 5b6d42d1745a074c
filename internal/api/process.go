package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dunamismax/pixelpipe/internal/diagnostics"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
)

const (
	infoHeader     = "X-Pixelpipe-Info"
	warningsHeader = "X-Pixelpipe-Warnings"
)

// handleProcess runs an operation inline. Encoded bytes are returned as
// the body with the output info in a header; object outputs answer with
// the info as JSON.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	op := domain.NewOperation()
	if err := s.decodeJSON(w, r, &op); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := op.ValidateRemote(); err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	if !s.admit(w, r, pixelCost(op), true) {
		return
	}

	res, err := s.processor.Run(r.Context(), op)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	for _, warning := range res.Warnings {
		s.logger.WithField("stage", warning.Stage).Warn(warning.Message)
	}

	if res.Data == nil {
		writeJSON(w, http.StatusOK, map[string]any{"info": res.Info, "warnings": res.Warnings})
		return
	}

	info, _ := json.Marshal(res.Info)
	w.Header().Set(infoHeader, string(info))
	if len(res.Warnings) > 0 {
		warnings, _ := json.Marshal(res.Warnings)
		w.Header().Set(warningsHeader, string(warnings))
	}
	contentType := "application/octet-stream"
	if f, err := imagetype.ParseFormat(res.Info.Format); err == nil {
		contentType = f.ContentType()
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Data)
}

func (s *Server) decodeInput(w http.ResponseWriter, r *http.Request) (domain.InputSpec, bool) {
	spec := domain.NewInputSpec()
	if err := s.decodeJSON(w, r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return spec, false
	}
	op := domain.NewOperation()
	op.Input = spec
	if err := op.ValidateRemote(); err != nil {
		s.writePipelineError(w, r, err)
		return spec, false
	}
	return spec, true
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.decodeInput(w, r)
	if !ok || !s.admit(w, r, inputCost(spec), true) {
		return
	}
	md, err := s.metadata.Read(r.Context(), spec)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	spec, ok := s.decodeInput(w, r)
	if !ok || !s.admit(w, r, inputCost(spec), true) {
		return
	}
	st, err := s.stats.Read(r.Context(), spec)
	if err != nil {
		s.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetDiagnostics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.diagnostics.Snapshot())
}

func (s *Server) handleUpdateDiagnostics(w http.ResponseWriter, r *http.Request) {
	var update diagnostics.Update
	if err := s.decodeJSON(w, r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.diagnostics.Apply(update)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

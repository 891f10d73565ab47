package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docweave/internal/detect"
	"github.com/dgallion1/docweave/internal/errs"
	"github.com/dgallion1/docweave/internal/export"
	"github.com/dgallion1/docweave/internal/pipeline"
)

// maxBatch caps the number of files in one async request.
const maxBatch = 20

// convertResponse is a conversion result with the document rendered in the
// requested export format.
type convertResponse struct {
	ID       string               `json:"id"`
	Status   pipeline.Status      `json:"status"`
	Input    pipeline.Input       `json:"input"`
	Errors   []pipeline.ErrorItem `json:"errors"`
	Timings  []pipeline.Timing    `json:"timings"`
	Cached   bool                 `json:"cached,omitempty"`
	Format   export.Format        `json:"format,omitempty"`
	Document json.RawMessage      `json:"document,omitempty"`
	Content  string               `json:"content,omitempty"`
}

func newConvertResponse(res *pipeline.ConversionResult, to export.Format) (convertResponse, error) {
	out := convertResponse{
		ID:      res.ID,
		Status:  res.Status,
		Input:   res.Input,
		Errors:  res.Errors,
		Timings: res.Timings,
		Cached:  res.Cached,
	}
	if res.Document == nil {
		return out, nil
	}
	out.Format = to
	switch to {
	case export.FormatJSON:
		data, err := export.JSON(res.Document)
		if err != nil {
			return out, err
		}
		out.Document = data
	default:
		data, err := export.Render(res.Document, to)
		if err != nil {
			return out, err
		}
		out.Content = string(data)
	}
	return out, nil
}

func exportFormat(r *http.Request) (export.Format, error) {
	v := r.FormValue("to")
	if v == "" {
		return export.FormatJSON, nil
	}
	f, ok := export.ParseFormat(v)
	if !ok {
		return "", fmt.Errorf("unknown export format %q", v)
	}
	return f, nil
}

// handleConvert converts one document synchronously. With raw=true the
// exported document is the whole response body.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	sources, cleanup, err := s.readSources(w, r, 1)
	defer cleanup()
	if err != nil {
		uploadError(w, err)
		return
	}
	to, err := exportFormat(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, convErr := s.orchestrator.Converter().Convert(r.Context(), sources[0])
	if convErr != nil {
		s.log.Info("conversion failed", "name", res.Input.Name, "kind", errs.KindOf(convErr), "error", convErr)
		writeJSON(w, statusFor(errs.KindOf(convErr)), map[string]any{
			"id":     res.ID,
			"status": res.Status,
			"input":  res.Input,
			"errors": res.Errors,
			"error":  convErr.Error(),
		})
		return
	}

	if raw, _ := formBool(r.FormValue("raw")); raw {
		data, err := export.Render(res.Document, to)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", to.ContentType())
		w.Header().Set("X-Conversion-Id", res.ID)
		w.Header().Set("X-Conversion-Status", string(res.Status))
		w.Write(data)
		return
	}

	out, err := newConvertResponse(res, to)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleConvertAsync queues one job per uploaded file.
func (s *Server) handleConvertAsync(w http.ResponseWriter, r *http.Request) {
	sources, cleanup, err := s.readSources(w, r, maxBatch)
	defer cleanup()
	if err != nil {
		uploadError(w, err)
		return
	}

	var (
		jobs     []map[string]any
		accepted int
	)
	for _, src := range sources {
		job, err := s.orchestrator.Submit(src)
		if err != nil {
			jobs = append(jobs, map[string]any{
				"filename": job.Filename,
				"job_id":   job.ID,
				"error":    err.Error(),
			})
			continue
		}
		accepted++
		jobs = append(jobs, map[string]any{
			"filename": job.Filename,
			"job_id":   job.ID,
			"status":   job.Snapshot().Status,
			"poll_url": fmt.Sprintf("/v1/jobs/%s", job.ID),
		})
	}

	code := http.StatusAccepted
	if accepted == 0 {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"jobs": jobs})
}

// handleJob reports job progress and, once done, the rendered result.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	to, err := exportFormat(r)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	body := map[string]any{"job": job.Snapshot()}
	if res := job.Result(); res != nil {
		out, err := newConvertResponse(res, to)
		if err != nil {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body["result"] = out
	}
	writeJSON(w, http.StatusOK, body)
}

// handleDetect reports the detected format of an upload without
// converting it.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	sources, cleanup, err := s.readSources(w, r, 1)
	defer cleanup()
	if err != nil {
		uploadError(w, err)
		return
	}
	src := sources[0]
	if src.Data == nil {
		jsonError(w, "detect needs an uploaded file", http.StatusBadRequest)
		return
	}
	det, err := s.orchestrator.Converter().Detect(src.Name, src.Data, src.Hint)
	if err != nil {
		jsonError(w, err.Error(), statusFor(errs.KindOf(err)))
		return
	}
	body := map[string]any{"detection": det}
	if det.Warning != nil {
		body["warning"] = det.Warning.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	conv := s.orchestrator.Converter()
	opts := conv.Options()
	type formatInfo struct {
		Format   detect.Format `json:"format"`
		Pipeline pipeline.Kind `json:"pipeline"`
	}
	var inputs []formatInfo
	for _, f := range conv.Formats() {
		inputs = append(inputs, formatInfo{Format: f, Pipeline: opts.KindFor(f)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"inputs":  inputs,
		"outputs": export.Formats,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"queue_depth": s.orchestrator.QueueDepth(),
		"accelerator": s.orchestrator.Converter().Accelerator(),
	}
	if s.vlmStats != nil {
		body["vlm"] = s.vlmStats.Snapshot()
	}
	if s.cache != nil {
		st, err := s.cache.Stats(r.Context())
		if err != nil {
			s.log.Warn("cache stats failed", "error", err)
		} else {
			body["cache"] = st
		}
	}
	writeJSON(w, http.StatusOK, body)
}

package api

import (
	"net/http"

	"github.com/dgallion1/docweave/internal/chunker"
	"github.com/dgallion1/docweave/internal/errs"
)

type chunkResponse struct {
	chunker.Chunk
	Contextualized string `json:"contextualized"`
}

// handleChunk converts one document and returns its chunks. Form or query
// fields max_tokens, merge_list_items and split_oversized override the
// configured chunking defaults.
func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	sources, cleanup, err := s.readSources(w, r, 1)
	defer cleanup()
	if err != nil {
		uploadError(w, err)
		return
	}

	res, err := s.orchestrator.Converter().Convert(r.Context(), sources[0])
	if err != nil {
		writeJSON(w, statusFor(errs.KindOf(err)), map[string]any{
			"id":     res.ID,
			"status": res.Status,
			"errors": res.Errors,
			"error":  err.Error(),
		})
		return
	}

	ch := s.chunker(r)
	all, err := ch.All(res.Document)
	if err != nil {
		s.log.Error("chunking failed", "conversion_id", res.ID, "error", err)
		jsonError(w, err.Error(), statusFor(errs.KindOf(err)))
		return
	}
	chunks := make([]chunkResponse, 0, len(all))
	for _, c := range all {
		chunks = append(chunks, chunkResponse{Chunk: c, Contextualized: ch.Contextualize(c)})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         res.ID,
		"status":     res.Status,
		"input":      res.Input,
		"errors":     res.Errors,
		"max_tokens": ch.Config().MaxTokens,
		"chunks":     chunks,
	})
}

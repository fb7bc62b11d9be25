package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/worldgen"
)

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	kind, err := worldgen.ParseContentType(chi.URLParam(r, "type"))
	if err != nil {
		s.unknownType(w, err)
		return
	}

	var raw map[string]any
	if err := decodeBody(w, r, &raw); err != nil {
		s.badBody(w, err)
		return
	}
	if raw == nil {
		raw = map[string]any{}
	}

	resp, err := s.gen.GenerateRaw(r.Context(), kind, raw)
	if err != nil {
		var ve *worldgen.ValidationError
		if errors.As(err, &ve) {
			s.validationFailed(w, kind, ve)
			return
		}
		s.fail(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if !resp.Success {
		observe.Logger(r.Context()).Info("api: generation failed", "type", kind, "error", resp.Error)
		s.fail(w, http.StatusInternalServerError, resp.Error, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"data":      resp.Data,
		"metadata":  resp.Metadata,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	kind, err := worldgen.ParseContentType(chi.URLParam(r, "type"))
	if err != nil {
		s.unknownType(w, err)
		return
	}
	doc := usage(kind)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"type":      kind,
		"usage":     doc,
		"timestamp": s.timestamp(),
	})
}

type batchRequest struct {
	Operations []worldgen.BatchOperation `json:"operations"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}
	switch n := len(req.Operations); {
	case n == 0:
		s.fail(w, http.StatusBadRequest, "operations is required and must not be empty", nil)
		return
	case n > MaxBatchOperations:
		s.fail(w, http.StatusBadRequest, fmt.Sprintf("at most %d operations are accepted per batch, got %d", MaxBatchOperations, n), nil)
		return
	}

	log := observe.Logger(r.Context())
	results := s.gen.GenerateBatch(r.Context(), req.Operations, func(p int) {
		log.Debug("api: batch progress", "percent", p)
	})

	succeeded := 0
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
		"summary":   worldgen.BatchSummary(results),
		"timestamp": s.timestamp(),
	})
}

func (s *Server) validationFailed(w http.ResponseWriter, kind worldgen.ContentType, ve *worldgen.ValidationError) {
	fields := worldgen.Fields(kind)
	extra := map[string]any{
		"missingFields":  nonNil(ve.MissingFields),
		"requiredFields": fields.Required,
		"optionalFields": fields.Optional,
	}
	if len(ve.InvalidFields) > 0 {
		extra["invalidFields"] = ve.InvalidFields
	}
	s.fail(w, http.StatusBadRequest, ve.Error(), extra)
}

func (s *Server) unknownType(w http.ResponseWriter, err error) {
	extra := map[string]any{"availableTypes": worldgen.ContentTypes}
	var ve *worldgen.ValidationError
	if errors.As(err, &ve) && ve.Suggestion != "" {
		extra["suggestion"] = ve.Suggestion
	}
	s.fail(w, http.StatusBadRequest, err.Error(), extra)
}

func (s *Server) badBody(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		s.fail(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), nil)
		return
	}
	s.fail(w, http.StatusBadRequest, "invalid request body: expected a JSON object", nil)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

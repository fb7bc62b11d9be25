package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/loreforge/internal/history"
	"github.com/MrWong99/loreforge/internal/lifecycle"
	"github.com/MrWong99/loreforge/internal/observe"
	"github.com/MrWong99/loreforge/internal/worldgen"
)

// Actions accepted by POST /ai.
const (
	ActionHealthCheck    = "health-check"
	ActionReinitialize   = "reinitialize"
	ActionDetailedStatus = "detailed-status"
	ActionServiceMetrics = "service-metrics"
)

// AvailableActions lists the POST /ai actions.
var AvailableActions = []string{ActionHealthCheck, ActionReinitialize, ActionDetailedStatus, ActionServiceMetrics}

func healthStatus(sum lifecycle.Summary) string {
	if sum.OverallHealth {
		return "healthy"
	}
	return "unhealthy"
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	health := s.lc.CheckServiceHealth(r.Context())
	sum := lifecycle.Summarize(health)

	services := make(map[string]serviceDoc, len(health))
	for key, ok := range health {
		d := describeService(key)
		d.Healthy = ok
		services[key] = d
	}
	capabilities := make(map[string]capability, len(worldgen.ContentTypes))
	for _, kind := range worldgen.ContentTypes {
		capabilities[string(kind)] = capabilityOf(kind)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"status":       healthStatus(sum),
		"version":      Version,
		"state":        s.lc.State().String(),
		"summary":      sum,
		"services":     services,
		"capabilities": capabilities,
		"timestamp":    s.timestamp(),
	})
}

type actionRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.badBody(w, err)
		return
	}
	switch req.Action {
	case ActionHealthCheck:
		s.actionHealthCheck(w, r)
	case ActionReinitialize:
		s.actionReinitialize(w, r)
	case ActionDetailedStatus:
		s.actionDetailedStatus(w, r)
	case ActionServiceMetrics:
		s.actionServiceMetrics(w, r)
	default:
		s.fail(w, http.StatusBadRequest,
			fmt.Sprintf("invalid action %q. Supported actions: health-check, reinitialize, detailed-status, service-metrics", req.Action),
			map[string]any{"availableActions": AvailableActions})
	}
}

func (s *Server) actionHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := s.lc.CheckServiceHealth(r.Context())
	sum := lifecycle.Summarize(health)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"status":    healthStatus(sum),
		"services":  health,
		"summary":   sum,
		"timestamp": s.timestamp(),
	})
}

func (s *Server) actionReinitialize(w http.ResponseWriter, r *http.Request) {
	if err := s.lc.Reinitialize(r.Context()); err != nil {
		observe.Logger(r.Context()).Error("api: reinitialize failed", "err", err)
		s.fail(w, http.StatusInternalServerError, "reinitialization failed", map[string]any{
			"state": s.lc.State().String(),
		})
		return
	}
	health := s.lc.CheckServiceHealth(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"status":        "reinitialized",
		"state":         s.lc.State().String(),
		"services":      health,
		"overallHealth": lifecycle.Summarize(health).OverallHealth,
		"timestamp":     s.timestamp(),
	})
}

type serviceStatus struct {
	Healthy      bool      `json:"healthy"`
	LastChecked  time.Time `json:"lastChecked"`
	Capabilities []string  `json:"capabilities"`
}

func (s *Server) actionDetailedStatus(w http.ResponseWriter, r *http.Request) {
	health := s.lc.CheckServiceHealth(r.Context())
	_, checked := s.lc.LastHealth()
	if checked.IsZero() {
		checked = s.now()
	}
	services := make(map[string]serviceStatus, len(health))
	for key, ok := range health {
		services[key] = serviceStatus{
			Healthy:      ok,
			LastChecked:  checked.UTC(),
			Capabilities: describeService(key).Features,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"state":     s.lc.State().String(),
		"services":  services,
		"timestamp": s.timestamp(),
	})
}

type typePerformance struct {
	Requests      int     `json:"requests"`
	AvgTimeMS     float64 `json:"averageTimeMs"`
	SuccessRate   float64 `json:"successRate"`
	CacheHitCount int     `json:"cacheHits"`
}

func (s *Server) actionServiceMetrics(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.fail(w, http.StatusServiceUnavailable, "generation history is disabled", nil)
		return
	}
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("api: history stats", "err", err)
		s.fail(w, http.StatusInternalServerError, "service metrics unavailable", nil)
		return
	}

	var errorRate float64
	if stats.Total > 0 {
		errorRate = math.Round((100-stats.SuccessRate)*10) / 10
	}
	metrics := map[string]any{
		"requestsProcessed":     stats.Total,
		"successRate":           stats.SuccessRate,
		"errorRate":             errorRate,
		"cacheHitRate":          stats.CacheHitRate,
		"averageResponseTimeMs": stats.AvgDurationMS,
	}
	if since := s.lc.ReadySince(); !since.IsZero() {
		metrics["readySince"] = since.UTC()
		metrics["uptimeSeconds"] = int64(s.now().Sub(since).Seconds())
	}

	performance := make(map[string]typePerformance, len(stats.ByKind))
	for _, k := range stats.ByKind {
		var rate float64
		if k.Total > 0 {
			rate = math.Round(float64(k.Succeeded)/float64(k.Total)*1000) / 10
		}
		performance[k.Kind] = typePerformance{
			Requests:      k.Total,
			AvgTimeMS:     k.AvgDurationMS,
			SuccessRate:   rate,
			CacheHitCount: k.CacheHits,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"metrics":     metrics,
		"performance": performance,
		"timestamp":   s.timestamp(),
	})
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.fail(w, http.StatusServiceUnavailable, "generation history is disabled", nil)
		return
	}
	q := history.Query{}
	params := r.URL.Query()
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.fail(w, http.StatusBadRequest, fmt.Sprintf("limit %q must be a non-negative integer", v), nil)
			return
		}
		q.Limit = n
	}
	if v := params.Get("type"); v != "" {
		kind, err := worldgen.ParseContentType(v)
		if err != nil {
			s.unknownType(w, err)
			return
		}
		q.Kind = string(kind)
	}
	if v := params.Get("success"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, http.StatusBadRequest, fmt.Sprintf("success %q must be a boolean", v), nil)
			return
		}
		q.SuccessOnly = ok
	}

	entries, err := s.history.Recent(r.Context(), q)
	if err != nil {
		observe.Logger(r.Context()).Error("api: history recent", "err", err)
		s.fail(w, http.StatusInternalServerError, "generation history unavailable", nil)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"generations": entries,
		"count":       len(entries),
		"timestamp":   s.timestamp(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.fail(w, http.StatusServiceUnavailable, "generation history is disabled", nil)
		return
	}
	stats, err := s.history.Stats(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("api: history stats", "err", err)
		s.fail(w, http.StatusInternalServerError, "generation statistics unavailable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"stats":     stats,
		"timestamp": s.timestamp(),
	})
}

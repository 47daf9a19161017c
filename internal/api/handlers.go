package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	bridgerouter "github.com/nerrad567/gray-logic-router/internal/bridges/router"
	"github.com/nerrad567/gray-logic-router/internal/routing"
)

// routerResponse is the body of GET /api/v1/router.
type routerResponse struct {
	bridgerouter.StateMessage
	Statistics *bridgerouter.Statistics `json:"statistics"`
}

// routingModeRequest is the body of PUT /api/v1/router/mode.
type routingModeRequest struct {
	RoutingMode string `json:"routing_mode"`
}

// filterTableBody is used for both directions of /api/v1/router/filter-table.
type filterTableBody struct {
	Addresses []string `json:"addresses"`
}

// handleHealth reports liveness. The API is alive whenever it answers, so
// the status code is always 200; "status" reflects whether frames flow.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.router.Status()
	status := "ok"
	if st.State != routing.StateRouting {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"state":          st.State.String(),
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleGetRouter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.routerState())
}

func (s *Server) routerState() routerResponse {
	st := s.router.Status()
	return routerResponse{
		StateMessage: bridgerouter.NewStateMessage(s.routerID, st, time.Now()),
		Statistics:   bridgerouter.NewStatistics(st.Stats),
	}
}

// handleSetRoutingMode changes the routing mode. A mode that was applied but
// could not be persisted is reported as a 500 with code persist_failed.
func (s *Server) handleSetRoutingMode(w http.ResponseWriter, r *http.Request) {
	var req routingModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	mode, err := routing.ParseRoutingMode(req.RoutingMode)
	if err != nil {
		writeError(w, ErrCodeValidation, err.Error())
		return
	}

	if err := s.router.ApplyRoutingMode(r.Context(), mode); err != nil {
		s.writeApplyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.routerState())
}

func (s *Server) handleGetFilterTable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, filterTableBody{
		Addresses: bridgerouter.FormatFilterTable(s.router.FilterTable()),
	})
}

func (s *Server) handleSetFilterTable(w http.ResponseWriter, r *http.Request) {
	var body filterTableBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	table, err := bridgerouter.ParseFilterTable(body.Addresses)
	if err != nil {
		writeError(w, ErrCodeValidation, err.Error())
		return
	}

	if err := s.router.ApplyFilterTable(r.Context(), table); err != nil {
		s.writeApplyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, filterTableBody{
		Addresses: bridgerouter.FormatFilterTable(s.router.FilterTable()),
	})
}

// handleRestart stops and starts the engine. It is the only way out of
// StateFailure besides a process restart.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.router.Restart(r.Context()); err != nil {
		s.logger.Warn("restart requested over API failed", "error", err)
		writeError(w, ErrCodeUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.routerState())
}

func (s *Server) writeApplyError(w http.ResponseWriter, err error) {
	if errors.Is(err, bridgerouter.ErrPersistFailed) {
		s.logger.Error("configuration change not persisted", "error", err)
		writeError(w, ErrCodePersist, err.Error())
		return
	}
	writeError(w, ErrCodeInternal, err.Error())
}

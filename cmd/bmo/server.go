package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotsetgreg/bmo/pkg/agent"
	"github.com/dotsetgreg/bmo/pkg/channels"
	"github.com/dotsetgreg/bmo/pkg/logger"
)

const maxTurnBody = 8 << 20

// gatewayServer serves health, readiness, Prometheus metrics and a JSON turn
// endpoint for non-Discord clients.
type gatewayServer struct {
	srv      *http.Server
	orch     *agent.Orchestrator
	channels channelStatus
	ready    atomic.Bool
}

// channelStatus is satisfied by *channels.Manager.
type channelStatus interface {
	Status() map[string]channels.ChannelStatus
}

// newGatewayServer builds the HTTP surface. chans may be nil when no
// channel manager runs.
func newGatewayServer(host string, port int, orch *agent.Orchestrator, gatherer prometheus.Gatherer, chans channelStatus) *gatewayServer {
	s := &gatewayServer{orch: orch, channels: chans}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /v1/turn", s.handleTurn)
	s.srv = &http.Server{
		Addr:              net.JoinHostPort(host, strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *gatewayServer) Start() error {
	s.ready.Store(true)
	return s.srv.ListenAndServe()
}

func (s *gatewayServer) Stop(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *gatewayServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	Status   string                            `json:"status"`
	Channels map[string]channels.ChannelStatus `json:"channels,omitempty"`
}

// handleReady is 200 once the server is started and every enabled channel
// is running.
func (s *gatewayServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	resp := readyResponse{Status: "ready"}
	ok := s.ready.Load()
	if s.channels != nil {
		resp.Channels = s.channels.Status()
		for _, st := range resp.Channels {
			if !st.Running {
				ok = false
			}
		}
	}
	if !ok {
		resp.Status = "not ready"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type turnRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Language  string `json:"language,omitempty"`
	ImageData string `json:"image_data,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *gatewayServer) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: string(agent.KindMalformedInput)})
		return
	}

	res, err := s.orch.ProcessTurn(r.Context(), agent.TurnRequest{
		SessionID: req.SessionID,
		Utterance: req.Message,
		Language:  req.Language,
		ImageData: req.ImageData,
	})
	if err != nil {
		status, body := errorFor(err)
		logger.WarnCF("gateway", "Turn request failed", map[string]interface{}{
			"session_id": req.SessionID,
			"status":     status,
			"kind":       body.Kind,
			"error":      err.Error(),
		})
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// errorFor maps a turn error to its HTTP status and client-facing body. The
// body carries only the stable kind and message; causes stay in the logs.
func errorFor(err error) (int, errorResponse) {
	var te *agent.TurnError
	if !errors.As(err, &te) {
		return http.StatusInternalServerError, errorResponse{Error: "internal error", Kind: string(agent.KindInternal)}
	}
	body := errorResponse{Error: te.Message, Kind: string(te.Kind)}
	switch te.Kind {
	case agent.KindMalformedInput:
		return http.StatusBadRequest, body
	case agent.KindCompletionUnavailable:
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, body
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WarnCF("gateway", "Failed to write response", map[string]interface{}{"error": err.Error()})
	}
}

package server

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	"signalbot/src/datamodels"
	"signalbot/src/metrics"
	"signalbot/src/utils/errors"
	"signalbot/src/version"
)

// @title Signalbot API
// @version 1.0
// @description Signal generation, outcome tracking and backtesting
// @host localhost:8080
// @BasePath /

// WebSocketMessageType represents the type of WebSocket message
// @Description Type of message being sent over WebSocket connection
type WebSocketMessageType string

const (
	// Stats asks for live performance over a period
	Stats WebSocketMessageType = "stats"
	// Retraining asks for recent retraining cycles
	Retraining WebSocketMessageType = "retraining"
)

// WebSocketMessage represents a message sent over WebSocket
// @Description Message structure for WebSocket communication
type WebSocketMessage struct {
	// Enum: stats, retraining
	MessageType WebSocketMessageType `json:"message_type" example:"stats"`
	Message     json.RawMessage      `json:"message,omitempty"`
}

// Response is the envelope of every JSON reply, over HTTP and WebSocket
// @Description Response envelope
type Response struct {
	Success bool   `json:"success" example:"true"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty" example:"signal not found"`
}

// GenerateSignalRequest
// @Description Signal request; risk falls back to the configured default
type GenerateSignalRequest struct {
	Symbol    string                 `json:"symbol" example:"AAPL"`
	Timeframe string                 `json:"timeframe" example:"1m"`
	Risk      *datamodels.RiskConfig `json:"risk,omitempty"`
}

// RecordOutcomeRequest
// @Description Observed price for an open signal; time defaults to now
type RecordOutcomeRequest struct {
	Price float64    `json:"price" example:"101.5"`
	Time  *time.Time `json:"time,omitempty"`
}

// BacktestRequest
// @Description Backtest of a configured strategy over [start, end)
type BacktestRequest struct {
	StrategyId string    `json:"strategy_id" example:"aapl_1m"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type StatsRequest struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// RegisterHealthCheck registers the health check endpoint
// @Summary Health check endpoint
// @Tags health
// @Produce plain
// @Success 200 {string} string "Signalbot is healthy"
// @Router /health [get]
func (s *Server) RegisterHealthCheck() {
	s.httpMux.HandleFunc("GET "+s.config.HealthEndpoint, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Signalbot is healthy"))
	})
}

// RegisterVersion registers the build info endpoint
// @Summary Build info
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /version [get]
func (s *Server) RegisterVersion() {
	s.httpMux.HandleFunc("GET /version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, version.GetBuildInfo())
	})
}

func (s *Server) RegisterMetrics() {
	s.httpMux.Handle("GET "+s.config.MetricsEndpoint, metrics.PrometheusHandler())
}

// RegisterWebSocketHandler registers the WebSocket endpoint
// @Summary WebSocket connection endpoint
// @Description Streams metrics and answers stats and retraining messages
// @Tags websocket
// @Success 101 {string} string "Switching protocols to websocket"
// @Router /ws [get]
func (s *Server) RegisterWebSocketHandler() {
	s.httpMux.HandleFunc("/ws", s.handleWebSocket)
}

// RegisterSwagger registers the Swagger documentation endpoint
// @Summary Swagger documentation endpoint
// @Tags docs
// @Produce json,html
// @Router /swagger/ [get]
func (s *Server) RegisterSwagger() {
	s.httpMux.HandleFunc("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}

func (s *Server) RegisterPipelineHandlers() {
	s.httpMux.HandleFunc("POST /signals", s.handleGenerateSignal)
	s.httpMux.HandleFunc("POST /signals/{id}/outcome", s.handleRecordOutcome)
	s.httpMux.HandleFunc("POST /backtests", s.handleRunBacktest)
	s.httpMux.HandleFunc("GET /stats", s.handleStats)
}

// handleGenerateSignal
// @Summary Generate a signal
// @Description Data is null when no signal is warranted
// @Tags signals
// @Accept json
// @Produce json
// @Param request body GenerateSignalRequest true "Signal request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 422 {object} Response
// @Router /signals [post]
func (s *Server) handleGenerateSignal(w http.ResponseWriter, r *http.Request) {
	var request GenerateSignalRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.Symbol == "" || request.Timeframe == "" {
		writeError(w, http.StatusBadRequest, errors.New("symbol and timeframe are required"))
		return
	}
	signal, err := s.pipeline.GenerateSignal(r.Context(), request.Symbol, request.Timeframe, request.Risk)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if signal == nil {
		writeJSON(w, http.StatusOK, Response{Success: true})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: signal})
}

// handleRecordOutcome
// @Summary Record the outcome of a signal
// @Tags signals
// @Accept json
// @Produce json
// @Param id path string true "Signal id"
// @Param request body RecordOutcomeRequest true "Observed price"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 409 {object} Response
// @Failure 422 {object} Response
// @Router /signals/{id}/outcome [post]
func (s *Server) handleRecordOutcome(w http.ResponseWriter, r *http.Request) {
	var request RecordOutcomeRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if request.Price <= 0 || math.IsInf(request.Price, 0) {
		writeError(w, http.StatusBadRequest, errors.Newf("invalid price %v", request.Price))
		return
	}
	at := s.clock()
	if request.Time != nil {
		at = *request.Time
	}
	signal, err := s.pipeline.RecordOutcome(r.Context(), r.PathValue("id"), request.Price, at)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: signal})
}

// handleRunBacktest
// @Summary Backtest a configured strategy
// @Tags backtests
// @Accept json
// @Produce json
// @Param request body BacktestRequest true "Strategy and range"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /backtests [post]
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var request BacktestRequest
	if !decodeBody(w, r, &request) {
		return
	}
	report, err := s.pipeline.RunBacktest(r.Context(), request.StrategyId, request.Start, request.End)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: report})
}

// handleStats
// @Summary Live performance of resolved signals
// @Tags stats
// @Produce json
// @Param from query string false "RFC3339 start, default 24h before to"
// @Param to query string false "RFC3339 end, default now"
// @Success 200 {object} Response
// @Router /stats [get]
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var request StatsRequest
	for name, target := range map[string]**time.Time{"from": &request.From, "to": &request.To} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.Wrapf(err, "parse %s", name))
			return
		}
		*target = &parsed
	}
	from, to := s.statsPeriod(request.From, request.To)
	summary, err := s.pipeline.GetStats(r.Context(), from, to)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: summary})
}

// statusFor maps domain sentinels to HTTP statuses. Anything else is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, datamodels.ErrSignalNotFound),
		errors.Is(err, datamodels.ErrUnknownStrategy),
		errors.Is(err, datamodels.ErrModelVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, datamodels.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, datamodels.ErrInsufficientHistory),
		errors.Is(err, datamodels.ErrOutcomeUndetermined),
		errors.Is(err, datamodels.ErrInvalidWindow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, datamodels.ErrInvalidRiskConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode request"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, status, Response{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signalbot/src/backtest"
	"signalbot/src/datamodels"
	"signalbot/src/metrics"
	"signalbot/src/retraining"
	"signalbot/src/utils/errors"
)

// Pipeline is the surface the handlers adapt. *pipeline.Pipeline satisfies it.
type Pipeline interface {
	GenerateSignal(ctx context.Context, symbol, timeframe string, risk *datamodels.RiskConfig) (*datamodels.Signal, error)
	RecordOutcome(ctx context.Context, signalId string, price float64, at time.Time) (*datamodels.Signal, error)
	RunBacktest(ctx context.Context, strategyId string, start, end time.Time) (*backtest.BacktestReport, error)
	GetStats(ctx context.Context, from, to time.Time) (datamodels.PerformanceSummary, error)
	RetrainingHistory() []retraining.CycleReport
}

type Server struct {
	config        datamodels.ServerConfig
	upgrader      websocket.Upgrader
	httpMux       *http.ServeMux
	metricsWriter *metrics.WebsocketMetricsWriter
	pipeline      Pipeline
	clock         func() time.Time
	registerOnce  sync.Once
}

func NewServer(config datamodels.ServerConfig) *Server {
	if config.Port == "" {
		config.Port = ":8080"
	}
	if config.MetricsEndpoint == "" {
		config.MetricsEndpoint = "/metrics"
	}
	if config.HealthEndpoint == "" {
		config.HealthEndpoint = "/health"
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		httpMux: http.NewServeMux(),
		clock:   time.Now,
	}
}

func (s *Server) WithMetricsWriter(metricsWriter *metrics.WebsocketMetricsWriter) *Server {
	s.metricsWriter = metricsWriter
	return s
}

func (s *Server) WithPipeline(pipeline Pipeline) *Server {
	s.pipeline = pipeline
	return s
}

func (s *Server) WithClock(clock func() time.Time) *Server {
	s.clock = clock
	return s
}

// Handler registers every route once and returns the mux.
func (s *Server) Handler() http.Handler {
	s.registerOnce.Do(func() {
		s.RegisterHealthCheck()
		s.RegisterVersion()
		s.RegisterMetrics()
		s.RegisterSwagger()
		if s.metricsWriter != nil {
			s.RegisterWebSocketHandler()
		}
		if s.pipeline != nil {
			s.RegisterPipelineHandlers()
		}
	})
	return s.httpMux
}

func (s *Server) Start(ctx context.Context) error {
	if s.pipeline == nil {
		return errors.New("pipeline is nil")
	}
	server := &http.Server{
		Addr:              s.config.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shut down server", "error", err)
		}
	}()

	slog.Info(fmt.Sprintf("Starting server on %s", s.config.Port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return errors.Wrap(err, "server error")
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	s.metricsWriter.AddClient(conn)
	defer s.metricsWriter.RemoveClient(conn)

	slog.Info("Client connected", "remote", conn.RemoteAddr(), "clients", s.metricsWriter.NumClients())

	welcomeMessage := Response{
		Success: true,
		Data:    "Connected to the signalbot metrics stream",
	}
	if err := conn.WriteJSON(welcomeMessage); err != nil {
		slog.Error("Failed to send welcome message", "error", err)
		return
	}

	for {
		mType, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Info("Client disconnected", "remote", conn.RemoteAddr(), "error", err)
			return
		}
		if mType != websocket.TextMessage {
			slog.Debug("Ignoring non-text websocket message", "type", mType)
			continue
		}

		var wsMessage WebSocketMessage
		if err := json.Unmarshal(msg, &wsMessage); err != nil {
			if writeErr := conn.WriteJSON(Response{Error: "malformed message"}); writeErr != nil {
				return
			}
			continue
		}

		var response Response
		switch wsMessage.MessageType {
		case Stats:
			response = s.handleStatsMessage(r.Context(), wsMessage.Message)
		case Retraining:
			response = s.handleRetrainingMessage()
		default:
			response = Response{Error: fmt.Sprintf("unknown message type %q", wsMessage.MessageType)}
		}
		if err := conn.WriteJSON(response); err != nil {
			slog.Error("Failed to send websocket response", "error", err)
			return
		}
	}
}

func (s *Server) handleStatsMessage(ctx context.Context, payload json.RawMessage) Response {
	if s.pipeline == nil {
		return Response{Error: "pipeline unavailable"}
	}
	var request StatsRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &request); err != nil {
			return Response{Error: err.Error()}
		}
	}
	from, to := s.statsPeriod(request.From, request.To)
	summary, err := s.pipeline.GetStats(ctx, from, to)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Success: true, Data: summary}
}

func (s *Server) handleRetrainingMessage() Response {
	if s.pipeline == nil {
		return Response{Error: "pipeline unavailable"}
	}
	return Response{Success: true, Data: s.pipeline.RetrainingHistory()}
}

// statsPeriod defaults to the trailing day.
func (s *Server) statsPeriod(from, to *time.Time) (time.Time, time.Time) {
	end := s.clock()
	if to != nil {
		end = *to
	}
	start := end.Add(-24 * time.Hour)
	if from != nil {
		start = *from
	}
	return start, end
}

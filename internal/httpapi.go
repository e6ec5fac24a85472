package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/arbiter/sdk/domain"
	"github.com/xKoRx/arbiter/sdk/telemetry"
)

// OpsServer expone la superficie operacional: /healthz, /status y /metrics
// (Prometheus). Lee del Core; nunca escribe salvo el Clear de operador.
type OpsServer struct {
	core      *Core
	telemetry *telemetry.Client
	registry  *prometheus.Registry
	server    *http.Server
}

// NewOpsServer construye el server con gauges registrados sobre el estado
// vivo del Core.
func NewOpsServer(core *Core, tel *telemetry.Client, addr string) *OpsServer {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "arbiter_journal_pending",
			Help: "Entradas del journal sin resolución terminal.",
		},
		func() float64 {
			n, err := core.Journal().PendingCount()
			if err != nil {
				return -1
			}
			return float64(n)
		},
	))
	registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "arbiter_risk_state",
			Help: "RiskState actual (0=NORMAL 1=THROTTLED 2=RECONCILING 3=HALTED).",
		},
		func() float64 {
			switch core.Risk().State() {
			case domain.RiskThrottled:
				return 1
			case domain.RiskReconciling:
				return 2
			case domain.RiskHalted:
				return 3
			default:
				return 0
			}
		},
	))

	mux := http.NewServeMux()
	s := &OpsServer{
		core:      core,
		telemetry: tel,
		registry:  registry,
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/risk/clear", s.handleRiskClear)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return s
}

// Start levanta el listener HTTP (bloqueante).
func (s *OpsServer) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown apaga el server con gracia.
func (s *OpsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *OpsServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// statusResponse es el cuerpo JSON de /status.
type statusResponse struct {
	RunID          string             `json:"run_id"`
	RiskState      string             `json:"risk_state"`
	RiskReason     string             `json:"risk_reason,omitempty"`
	TradingMode    string             `json:"trading_mode"`
	JournalPending int                `json:"journal_pending"`
	ConfigDigest   string             `json:"config_digest"`
	Exposure       map[string]float64 `json:"exposure"`
}

func (s *OpsServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.core.Journal().PendingCount()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := statusResponse{
		RunID:          s.core.RunID(),
		RiskState:      string(s.core.Risk().State()),
		RiskReason:     s.core.Risk().Reason(),
		TradingMode:    string(s.core.Risk().Mode()),
		JournalPending: pending,
		ConfigDigest:   s.core.ConfigDigest(),
		Exposure:       s.core.ExposureSnapshot(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleRiskClear es la acción de operador que baja el RiskState a NORMAL.
func (s *OpsServer) handleRiskClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	operator := r.URL.Query().Get("operator")
	if operator == "" {
		http.Error(w, "operator query param required", http.StatusBadRequest)
		return
	}

	s.core.Risk().Clear(r.Context(), operator)
	s.telemetry.Info(r.Context(), "Operator cleared risk state",
		attribute.String("operator", operator),
	)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("cleared"))
}

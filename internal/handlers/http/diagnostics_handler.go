package http

import (
	"context"
	"net/http"
	"time"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/services"
	"coachmeet/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SessionInspector is the read-only view the diagnostics endpoint exposes.
type SessionInspector interface {
	MeetingID() domain.MeetingID
	State() domain.ConnectionState
	Participants() []domain.Participant
	PresenterID() (domain.ParticipantID, bool)
	UnreadCount() int
}

// DiagnosticsServer serves local session state, metrics and health over
// HTTP. It binds to loopback by default and carries no auth; it is a
// debugging surface, not a public API.
type DiagnosticsServer struct {
	session SessionInspector
	metrics *services.MetricsService
	health  *monitoring.HealthChecker
	logger  *zap.SugaredLogger

	srv *http.Server
}

func NewDiagnosticsServer(
	address string,
	session SessionInspector,
	metrics *services.MetricsService,
	health *monitoring.HealthChecker,
	logger *zap.SugaredLogger,
) *DiagnosticsServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &DiagnosticsServer{
		session: session,
		metrics: metrics,
		health:  health,
		logger:  logger,
	}
	s.setupRoutes(router)
	s.srv = &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *DiagnosticsServer) setupRoutes(router *gin.Engine) {
	router.GET("/healthz", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/session", s.Session)
		api.GET("/counters", s.Counters)
	}
}

type participantView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsLocal  bool   `json:"is_local"`
	IsHost   bool   `json:"is_host"`
	MicOn    bool   `json:"mic_on"`
	WebcamOn bool   `json:"webcam_on"`
}

func (s *DiagnosticsServer) Session(c *gin.Context) {
	participants := s.session.Participants()
	views := make([]participantView, 0, len(participants))
	for _, p := range participants {
		views = append(views, participantView{
			ID:       string(p.ID),
			Name:     p.Name,
			IsLocal:  p.IsLocal,
			IsHost:   p.IsHost,
			MicOn:    p.MicOn,
			WebcamOn: p.WebcamOn,
		})
	}

	presenter := ""
	if id, ok := s.session.PresenterID(); ok {
		presenter = string(id)
	}

	c.JSON(http.StatusOK, gin.H{
		"meeting_id":       s.session.MeetingID(),
		"connection_state": s.session.State().String(),
		"participants":     views,
		"presenter_id":     presenter,
		"unread":           s.session.UnreadCount(),
	})
}

func (s *DiagnosticsServer) Counters(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

func (s *DiagnosticsServer) Health(c *gin.Context) {
	status := s.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

// Handler exposes the routed handler for tests and embedding.
func (s *DiagnosticsServer) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown. Run it on its own goroutine.
func (s *DiagnosticsServer) Start() error {
	s.logger.Infow("diagnostics server listening", "address", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *DiagnosticsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

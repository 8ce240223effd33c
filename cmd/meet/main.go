package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coachmeet/internal/core/domain"
	httphandlers "coachmeet/internal/handlers/http"
	"coachmeet/internal/infrastructure/monitoring"
	"coachmeet/internal/session"
	"coachmeet/pkg/config"
	"coachmeet/pkg/logger"
	"coachmeet/pkg/tracing"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file")
		meetingID  = flag.String("meeting", "", "meeting id to join")
		token      = flag.String("token", "", "meeting access token")
		name       = flag.String("name", "", "display name override")
		isHost     = flag.Bool("host", false, "join as host")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	if *meetingID == "" || *token == "" {
		zapLogger.Sugar().Fatalw("both -meeting and -token are required")
	}

	// Every log line from this process carries the meeting identity.
	logCtx := logger.WithMeeting(context.Background(), *meetingID, "")
	log := logger.NewContextLogger(zapLogger).WithContext(logCtx).Sugar()

	if cfg.Tracing.Enabled {
		tracerCfg := tracing.DefaultConfig()
		tracerCfg.Enabled = true
		tracerCfg.JaegerURL = cfg.Tracing.JaegerURL
		tracerCfg.SampleRate = cfg.Tracing.SampleRate
		tp, err := tracing.Init(tracerCfg)
		if err != nil {
			log.Warnw("tracing disabled, init failed", "error", err)
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	meetingEnded := make(chan struct{})
	sess, err := session.New(cfg, session.Options{
		MeetingID:       domain.MeetingID(*meetingID),
		Token:           *token,
		ParticipantName: *name,
		IsHost:          *isHost,
		OnMeetingEnd: func() {
			close(meetingEnded)
		},
	}, log)
	if err != nil {
		log.Fatalw("failed to build session", "error", err)
	}
	defer sess.Close()

	if cfg.Monitoring.DiagnosticsEnabled {
		collector := monitoring.NewPrometheusCollector()
		sess.Metrics().SetRecorder(collector)

		health := monitoring.NewHealthChecker()
		health.AddCheck("session", time.Second, func(ctx context.Context) error {
			if sess.State() == domain.ConnectionFailed {
				return domain.ErrJoinFailed
			}
			return nil
		})

		diag := httphandlers.NewDiagnosticsServer(
			cfg.Monitoring.DiagnosticsAddress, sess, sess.Metrics(), health, log)
		go func() {
			if err := diag.Start(); err != nil {
				log.Warnw("diagnostics server stopped", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			diag.Shutdown(ctx)
		}()
	}

	if err := sess.Join(context.Background()); err != nil {
		log.Fatalw("join failed", "error", err)
	}
	log.Infow("joining meeting", "participant_id", sess.LocalID())

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Infow("shutting down, leaving meeting")
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sess.Leave(leaveCtx); err != nil {
			log.Warnw("leave failed", "error", err)
		}
		cancel()
		select {
		case <-meetingEnded:
		case <-time.After(5 * time.Second):
			// No left confirmation arrived; clear presence synchronously.
			sess.ForceUnload()
		}
	case <-meetingEnded:
		log.Infow("meeting ended")
	}
}

package session

import (
	"context"
	"fmt"

	"coachmeet/internal/core/domain"
	"coachmeet/internal/core/ports"
	"coachmeet/internal/core/services"
	"coachmeet/internal/infrastructure/binder"
	broadcastmemory "coachmeet/internal/infrastructure/broadcast/memory"
	broadcastredis "coachmeet/internal/infrastructure/broadcast/redis"
	"coachmeet/internal/infrastructure/chatstore"
	"coachmeet/internal/infrastructure/notify"
	"coachmeet/internal/infrastructure/permissions"
	"coachmeet/internal/infrastructure/sdkbridge"
	"coachmeet/pkg/config"
	"coachmeet/pkg/validation"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// Options is the complete mount surface of a meeting session. Everything
// else is internal state.
type Options struct {
	MeetingID       domain.MeetingID
	Token           string
	ParticipantName string
	IsHost          bool
	OnMeetingEnd    func()

	// Optional overrides. Defaults: discard rendering, allow-all
	// permissions, terminal bell notifications, no shared presence flag.
	PacketSink  sdkbridge.PacketSink
	Permissions ports.MediaPermissions
	Notifier    ports.Notifier
	SetPresence ports.PresenceSetter
}

// Session owns one meeting from join to leave. It is the realtime SDK's
// handler and fans events out to the owning services; no other component
// talks to the SDK callbacks directly.
type Session struct {
	meetingID     domain.MeetingID
	participantID domain.ParticipantID

	sdk        *sdkbridge.Client
	roster     *services.Roster
	arena      *binder.Arena
	connection ports.ConnectionService
	media      ports.MediaService
	presenter  ports.PresenterService
	chat       ports.ChatService
	viewport   *services.ChatViewport
	metrics    *services.MetricsService

	broadcast ports.BroadcastChannel
	store     ports.ChatStore
	storeFac  *chatstore.Factory

	logger *zap.SugaredLogger
}

// New validates the token, builds the full service graph and returns the
// unstarted session. Join starts it.
func New(cfg *config.Config, opts Options, logger *zap.SugaredLogger) (*Session, error) {
	if err := validation.ValidateMeetingID(string(opts.MeetingID)); err != nil {
		return nil, err
	}
	if opts.ParticipantName != "" {
		if err := validation.ValidateDisplayName(opts.ParticipantName); err != nil {
			return nil, err
		}
	}
	if err := validation.ValidateSignalURL(cfg.Signal.URL); err != nil {
		return nil, err
	}

	tokens := services.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Leeway)
	claims, err := tokens.ValidateForMeeting(opts.Token, opts.MeetingID)
	if err != nil {
		return nil, fmt.Errorf("meeting token rejected: %w", err)
	}

	name := opts.ParticipantName
	if name == "" {
		name = claims.Name
	}

	metrics := services.NewMetricsService()

	sdk := sdkbridge.NewClient(sdkbridge.Config{
		Signal: sdkbridge.SignalConfig{
			URL:          cfg.Signal.URL,
			DialTimeout:  cfg.Signal.DialTimeout,
			PingInterval: cfg.Signal.PingInterval,
			PongTimeout:  cfg.Signal.PongTimeout,
		},
		ICEServers:    iceServers(cfg),
		MeetingID:     opts.MeetingID,
		ParticipantID: claims.ParticipantID,
		Token:         opts.Token,
		Name:          name,
		IsHost:        opts.IsHost || claims.IsHost,
	}, logger)

	surfaces := sdkbridge.NewSurfaceFactory(opts.PacketSink, sdk, logger)
	arena := binder.NewArena(surfaces, metrics, binder.Config{
		MaxRetries: cfg.Media.BindRetries,
		RetryDelay: cfg.Media.BindRetryDelay,
	}, logger)

	roster := services.NewRoster(logger)
	roster.AddListener(arena)

	perms := opts.Permissions
	if perms == nil {
		perms = permissions.NewStaticPermissions(permissions.AllowAll())
	}

	// The media service needs the connection state while the connection
	// service needs media resets; the probe closes over the later binding.
	var connection ports.ConnectionService
	media := services.NewMediaService(sdk, perms, metrics, func() bool {
		return connection != nil && connection.State() == domain.ConnectionConnected
	}, services.MediaConfig{
		SettleDelay:     cfg.Media.SettleDelay,
		DefaultMicOn:    cfg.Media.DefaultMicOn,
		DefaultWebcamOn: cfg.Media.DefaultWebcamOn,
	}, logger)

	connection = services.NewConnectionService(sdk, media, metrics, opts.SetPresence, opts.OnMeetingEnd, services.ConnectionConfig{
		JoinTimeout:     cfg.Join.Timeout,
		DeferDelay:      cfg.Join.DeferDelay,
		MaxRetries:      cfg.Join.MaxRetries,
		RetryDelay:      cfg.Join.RetryDelay,
		ErrorRetryDelay: cfg.Join.ErrorRetryDelay,
		ReconnectDelay:  cfg.Join.ReconnectDelay,
	}, opts.MeetingID, claims.ParticipantID, logger)

	presenter := services.NewPresenterService(sdk, perms, metrics, services.ScreenShareConfig{
		ErrorClearDelay: cfg.ScreenShare.ErrorClearDelay,
		DeniedHintDelay: cfg.ScreenShare.DeniedHintDelay,
	}, claims.ParticipantID, logger)

	storeFac := chatstore.NewFactory(cfg, logger)
	store := storeFac.CreateChatStore()

	var broadcast ports.BroadcastChannel
	if client := storeFac.RedisClient(); client != nil {
		broadcast = broadcastredis.NewChannel(client, opts.MeetingID, logger)
	} else {
		broadcast = broadcastmemory.NewChannel()
	}

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewBell()
	}

	chat, err := services.NewChatService(
		opts.MeetingID,
		claims.ParticipantID,
		name,
		broadcast,
		store,
		notifier,
		notify.Noop{},
		metrics,
		services.ChatConfig{
			EchoWindow:        cfg.Chat.EchoWindow,
			DuplicateWindow:   cfg.Chat.DuplicateWindow,
			StoreDedupWindow:  cfg.Chat.StoreDedupWindow,
			HistoryLimit:      cfg.Chat.HistoryLimit,
			MessagesPerSecond: cfg.Chat.MessagesPerSecond,
			Burst:             cfg.Chat.Burst,
		},
		logger,
	)
	if err != nil {
		broadcast.Close()
		if store != nil {
			store.Close()
		}
		storeFac.Close()
		return nil, fmt.Errorf("chat engine failed to start: %w", err)
	}

	s := &Session{
		meetingID:     opts.MeetingID,
		participantID: claims.ParticipantID,
		sdk:           sdk,
		roster:        roster,
		arena:         arena,
		connection:    connection,
		media:         media,
		presenter:     presenter,
		chat:          chat,
		viewport:      services.NewChatViewport(),
		metrics:       metrics,
		broadcast:     broadcast,
		store:         store,
		storeFac:      storeFac,
		logger:        logger,
	}
	sdk.SetHandler(s)
	return s, nil
}

func iceServers(cfg *config.Config) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers
}

// Join starts the connection lifecycle. Idempotent while in flight.
func (s *Session) Join(ctx context.Context) error {
	return s.connection.Join(ctx)
}

// RetryJoin is the manual retry affordance after the failed state.
func (s *Session) RetryJoin(ctx context.Context) error {
	return s.connection.RetryJoin(ctx)
}

func (s *Session) Leave(ctx context.Context) error {
	return s.connection.Leave(ctx)
}

// ForceUnload synchronously clears shared presence state. Call when the
// host process is going away and async cleanup cannot be trusted to run.
func (s *Session) ForceUnload() {
	s.connection.ForceUnload()
}

func (s *Session) ToggleMic(ctx context.Context) error    { return s.media.ToggleMic(ctx) }
func (s *Session) ToggleWebcam(ctx context.Context) error { return s.media.ToggleWebcam(ctx) }
func (s *Session) ToggleScreenShare(ctx context.Context) error {
	return s.presenter.ToggleScreenShare(ctx)
}

func (s *Session) SendChat(ctx context.Context, body string) error {
	return s.chat.Send(ctx, body)
}

func (s *Session) ChatMessages() []*domain.ChatMessage { return s.chat.Messages() }
func (s *Session) SetChatPanelVisible(visible bool)    { s.chat.SetPanelVisible(visible) }
func (s *Session) Viewport() *services.ChatViewport    { return s.viewport }

// RetryShareView re-runs the screen-share bind for the given presenter after
// automatic retries were exhausted.
func (s *Session) RetryShareView(id domain.ParticipantID) {
	if b := s.arena.Binder(id, domain.MediaKindScreenShare); b != nil {
		b.Retry()
	}
}

// ShareViewState reports the viewer-side bind state for a presenter.
func (s *Session) ShareViewState(id domain.ParticipantID) binder.State {
	b := s.arena.Binder(id, domain.MediaKindScreenShare)
	if b == nil {
		return binder.StateIdle
	}
	return b.State()
}

func (s *Session) MeetingID() domain.MeetingID        { return s.meetingID }
func (s *Session) LocalID() domain.ParticipantID      { return s.participantID }
func (s *Session) State() domain.ConnectionState      { return s.connection.State() }
func (s *Session) Participants() []domain.Participant { return s.roster.Participants() }
func (s *Session) MicOn() bool                        { return s.media.MicOn() }
func (s *Session) WebcamOn() bool                     { return s.media.WebcamOn() }
func (s *Session) UnreadCount() int                   { return s.chat.UnreadCount() }
func (s *Session) Metrics() *services.MetricsService  { return s.metrics }

func (s *Session) PresenterID() (domain.ParticipantID, bool) {
	return s.presenter.PresenterID()
}

func (s *Session) ShareError() (string, bool) {
	return s.presenter.ShareError()
}

func (s *Session) DominantSpeaker() (domain.ParticipantID, bool) {
	return s.roster.DominantSpeaker()
}

// Close releases every owned resource. Safe after Leave or instead of it.
func (s *Session) Close() error {
	s.chat.Close()
	s.presenter.Close()
	s.connection.Close()
	s.arena.Close()
	s.broadcast.Close()
	if s.store != nil {
		s.store.Close()
	}
	s.storeFac.Close()
	return s.sdk.Close()
}

// ports.RealtimeHandler. Every SDK event enters the session here and is
// routed to exactly one owning service.

func (s *Session) OnJoined() {
	s.connection.HandleJoined()
}

func (s *Session) OnLeft() {
	s.connection.HandleLeft()
}

func (s *Session) OnConnectionError(err error) {
	s.connection.HandleConnectionError(err)
}

func (s *Session) OnParticipantJoined(p *domain.Participant) {
	s.roster.HandleParticipantJoined(p)
	s.metrics.SetParticipantCount(len(s.roster.Participants()))
}

func (s *Session) OnParticipantLeft(id domain.ParticipantID) {
	s.roster.HandleParticipantLeft(id)
	s.metrics.SetParticipantCount(len(s.roster.Participants()))
}

func (s *Session) OnTrackChanged(id domain.ParticipantID, kind domain.MediaKind, track domain.MediaTrack) {
	s.roster.HandleTrackChanged(id, kind, track)
}

func (s *Session) OnMicStateChanged(id domain.ParticipantID, on bool) {
	if id == s.participantID {
		s.media.HandleMicStateChanged(on)
	}
	s.roster.HandleMicStateChanged(id, on)
}

func (s *Session) OnWebcamStateChanged(id domain.ParticipantID, on bool) {
	if id == s.participantID {
		s.media.HandleWebcamStateChanged(on)
	}
	s.roster.HandleWebcamStateChanged(id, on)
}

func (s *Session) OnPresenterChanged(id domain.ParticipantID) {
	s.presenter.HandlePresenterChanged(id)
}

func (s *Session) OnActiveSpeakerChanged(id domain.ParticipantID) {
	s.roster.SetDominantSpeaker(id)
}

package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/bus"
	"chatsync/internal/config"
	"chatsync/internal/domain"
	"chatsync/internal/events"
	"chatsync/internal/logging"
	"chatsync/internal/messaging"
	"chatsync/internal/notifications"
	"chatsync/internal/persistence"
	"chatsync/internal/session"
	"chatsync/internal/transport"
)

// Runtime wires the whole sync core together: config, logging, cache,
// stores, session and facade. UI surfaces consume it through Store and
// Messenger.
type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB

	ConversationRepo *persistence.ConversationRepo
	MessageRepo      *persistence.MessageRepo
	WriterQueue      *persistence.WriterQueue

	Store     *domain.ConversationStore
	Session   *session.Session
	Messenger *messaging.Messenger
	API       *api.Client

	Notifications *NotificationService

	connStatusMu    sync.RWMutex
	connStatus      events.ConnectionStatus
	connStatusKnown bool
}

func Initialize(parent context.Context, sender notifications.Sender) (*Runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	logOpts := logging.Options{Level: cfg.Logging.Level, LogToFile: cfg.Logging.LogToFile}
	if err := logMgr.Configure(logOpts, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting chatsync runtime", "version", BuildVersion(), "build_date", BuildDateYMD())

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.DB = db

	rt.ConversationRepo = persistence.NewConversationRepo(db)
	rt.MessageRepo = persistence.NewMessageRepo(db)

	store := domain.NewConversationStore(cfg.User.ID)
	if err := domain.LoadStoreFromRepositories(ctx, store, rt.ConversationRepo, rt.MessageRepo); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Store = store

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	connSub := b.Subscribe(events.TopicConnStatus)
	go rt.captureConnStatus(ctx, connSub)
	store.Start(ctx, b)

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), 512)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue
	domain.StartPersistenceProjection(ctx, b, writerQueue, rt.ConversationRepo, rt.MessageRepo)

	tokens := api.StaticTokenSource(cfg.Server.AccessToken)
	rt.API = api.NewClient(cfg.Server.BaseURL, tokens)

	ws := transport.NewWebSocketTransport(cfg.Server.WebSocketURL, tokens.AccessToken)
	outbox := session.NewOutbox()
	rt.Session = session.New(logMgr.Logger("session"), b, ws, outbox, session.Config{
		BackoffFloor: time.Duration(cfg.Session.BackoffFloorSeconds) * time.Second,
		BackoffCap:   time.Duration(cfg.Session.BackoffCapSeconds) * time.Second,
		MaxAttempts:  cfg.Session.MaxReconnectAttempts,
		Keepalive:    time.Duration(cfg.Session.KeepaliveSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Session.WriteTimeoutSeconds) * time.Second,
	})

	rt.Messenger = messaging.NewMessenger(
		logMgr.Logger("messaging"),
		store,
		rt.Session,
		outbox,
		rt.API,
		rt.API,
		rt.API,
		messaging.Config{
			SelfID:         cfg.User.ID,
			SelfName:       cfg.User.Name,
			TypingStop:     time.Duration(cfg.Session.TypingStopMillis) * time.Millisecond,
			PendingTimeout: time.Duration(cfg.Session.PendingTimeoutSeconds) * time.Second,
		},
	)

	if sender == nil {
		sender = notifications.NopSender{}
	}
	rt.Notifications = NewNotificationService(b, store, rt.CurrentConfig, sender, logMgr.Logger("app.notifications"))
	rt.Notifications.Start(ctx)

	rt.Messenger.Start(ctx)

	return rt, nil
}

func (r *Runtime) captureConnStatus(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-sub:
			if !ok {
				return
			}
			status, ok := raw.(events.ConnectionStatus)
			if !ok {
				continue
			}
			r.setConnStatus(status)
		}
	}
}

func (r *Runtime) setConnStatus(status events.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

func (r *Runtime) CurrentConnStatus() (events.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	return status, known
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Config
}

// SaveAndApplyConfig persists the new config and re-applies the parts that
// can change at runtime. Server and identity changes need a restart.
func (r *Runtime) SaveAndApplyConfig(cfg config.AppConfig) error {
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	if err := config.Save(r.Paths.ConfigFile, cfg); err != nil {
		r.mu.Unlock()
		return err
	}
	r.Config = cfg
	r.mu.Unlock()

	logOpts := logging.Options{Level: cfg.Logging.Level, LogToFile: cfg.Logging.LogToFile}
	if err := r.LogManager.Configure(logOpts, r.Paths.LogFile); err != nil {
		return err
	}

	return nil
}

// ClearDatabase wipes the local cache, typically on account switch.
func (r *Runtime) ClearDatabase() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := persistence.ClearDatabase(ctx, r.DB); err != nil {
		return err
	}
	slog.Info("database cleared")

	return nil
}

func (r *Runtime) Close() error {
	if r.Messenger != nil {
		r.Messenger.Close()
	}
	if r.cancel != nil {
		r.cancel()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		_ = r.DB.Close()
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	return nil
}

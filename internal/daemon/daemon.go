package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/redis/go-redis/v9"

	"dialqueue/internal/config"
	"dialqueue/internal/correlation"
	"dialqueue/internal/dispatch"
	"dialqueue/internal/ingest"
	"dialqueue/internal/invites"
	"dialqueue/internal/llm"
	"dialqueue/internal/logging"
	"dialqueue/internal/notes"
	"dialqueue/internal/provider"
	"dialqueue/internal/queue"
	"dialqueue/internal/server"
)

const shutdownGrace = 10 * time.Second

// Daemon wires the store, the dispatch engine, and the HTTP server together
// and enforces single-instance execution through a file lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *queue.Store
	engine *dispatch.Engine
	server *server.Server

	redisClient *redis.Client

	lockPath string
	lock     *flock.Flock
	pidPath  string

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Queue        queue.HealthSummary
	QueueDBPath  string
	LockFilePath string
	APIBind      string
}

// New constructs the daemon and every service it runs. The store is opened
// here; callers own nothing but the returned daemon.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		lockPath: filepath.Join(cfg.Paths.LogDir, "dialqueued.lock"),
		pidPath:  filepath.Join(cfg.Paths.LogDir, "dialqueued.pid"),
	}
	d.lock = flock.New(d.lockPath)

	correlations, err := d.buildCorrelationStore()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	})
	greeter := notes.NewGreeter(llmClient, logger)
	summarizer := notes.NewSummarizer(llmClient, logger)

	inviteSender, err := invites.NewSender(invites.Config{
		Endpoint:        cfg.Invites.Endpoint,
		Timezone:        cfg.Invites.Timezone,
		DurationMinutes: cfg.Invites.DurationMinutes,
		RequestTimeout:  cfg.Invites.RequestTimeout,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("build invite sender: %w", err)
	}

	callProvider := provider.NewClient(provider.Config{
		APIKey:             cfg.Provider.APIKey,
		BaseURL:            cfg.Provider.BaseURL,
		AgentID:            cfg.Provider.AgentID,
		AgentPhoneNumberID: cfg.Provider.AgentPhoneNumberID,
		StatusAccountSID:   cfg.Provider.StatusAccountSID,
		StatusAuthToken:    cfg.Provider.StatusAuthToken,
		StatusBaseURL:      cfg.Provider.StatusBaseURL,
		RequestTimeout:     cfg.Provider.RequestTimeout,
	})

	d.engine = dispatch.NewEngine(
		store, correlations, callProvider, greeter, summarizer, inviteSender,
		logger, dispatch.Timing{
			PollInterval:     time.Duration(cfg.Provider.PollInterval) * time.Second,
			PollMaxWait:      time.Duration(cfg.Provider.PollMaxWait) * time.Second,
			ReaperInterval:   time.Duration(cfg.Workflow.ReaperInterval) * time.Second,
			ReaperTimeout:    time.Duration(cfg.Workflow.ReaperTimeoutMinutes) * time.Minute,
			WebhookStuck:     time.Duration(cfg.Workflow.WebhookStuckMinutes) * time.Minute,
			MaxAdvancePerRun: cfg.Workflow.MaxAdvancePerRun,
		})
	d.engine.SetExporter(func(ctx context.Context) error {
		profiles, err := store.ListProfiles(ctx)
		if err != nil {
			return err
		}
		return ingest.ExportWorkbook(cfg.Paths.ReportPath, profiles)
	})
	d.server = server.New(cfg, store, d.engine, logger)
	return d, nil
}

func (d *Daemon) buildCorrelationStore() (correlation.Store, error) {
	if d.cfg.Correlation.Backend != "redis" {
		return correlation.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr: d.cfg.Correlation.RedisAddr,
		DB:   d.cfg.Correlation.RedisDB,
	})
	d.redisClient = client
	ttl := time.Duration(d.cfg.Correlation.TTLMinutes) * time.Minute
	return correlation.NewRedis(client, ttl), nil
}

// Start acquires the instance lock, writes the PID file, and launches the
// engine and the HTTP server. Entries left queued by a previous run are
// picked up immediately.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dialqueue daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.writePIDFile(); err != nil {
		d.logger.Warn("pid file write failed", logging.Error(err))
	}

	if err := d.engine.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start engine: %w", err)
	}
	if err := d.server.Start(); err != nil {
		d.engine.Stop()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start http server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("dialqueue daemon started",
		logging.String("lock", d.lockPath),
		logging.String("bind", d.cfg.Paths.APIBind))

	go d.engine.Advance(runCtx)
	return nil
}

// Stop drains the HTTP server, stops the engine, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := d.server.Stop(shutdownCtx); err != nil {
		d.logger.Warn("http shutdown failed", logging.Error(err))
	}

	d.engine.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}

	if err := os.Remove(d.pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Warn("pid file cleanup failed", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}

	d.running.Store(false)
	d.logger.Info("dialqueue daemon stopped")
}

// Close stops the daemon and releases every resource it owns.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Running reports whether the daemon is currently started.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns a runtime snapshot.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		Queue:        health,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		APIBind:      d.cfg.Paths.APIBind,
	}, nil
}

// Store exposes the queue store for CLI commands that run in-process.
func (d *Daemon) Store() *queue.Store {
	return d.store
}

func (d *Daemon) writePIDFile() error {
	return os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

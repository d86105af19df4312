package steward

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/steward/internal/approval"
	"github.com/petrijr/steward/internal/bus"
	"github.com/petrijr/steward/internal/catalog"
	"github.com/petrijr/steward/internal/engine"
	"github.com/petrijr/steward/internal/eventlog"
	"github.com/petrijr/steward/internal/metrics"
	"github.com/petrijr/steward/internal/runstore"
	"github.com/petrijr/steward/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine            = api.Engine
	Event             = api.Event
	WorkflowTemplate  = api.WorkflowTemplate
	StepSpec          = api.StepSpec
	WorkflowRun       = api.WorkflowRun
	WorkflowStep      = api.WorkflowStep
	RunStatus         = api.RunStatus
	RunListOptions    = api.RunListOptions
	ApprovalRequest   = api.ApprovalRequest
	DecisionPayload   = api.DecisionPayload
	RecoveryResult    = api.RecoveryResult
	RunAnalysis       = api.RunAnalysis
	OptimizeResult    = api.OptimizeResult
	RunResult         = api.RunResult
	ConditionalResult = api.ConditionalResult
	Notifier          = api.Notifier
	Observer          = api.Observer
	NoopObserver      = api.NoopObserver
	LoggingObserver   = api.LoggingObserver
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	NewLogNotifier       = api.NewLogNotifier
	IsValidationError    = api.IsValidationError
	IsExecutionError     = api.IsExecutionError
)

// Re-export status values for convenience.

const (
	StatusPending   = api.StatusPending
	StatusRunning   = api.StatusRunning
	StatusPaused    = api.StatusPaused
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusCancelled = api.StatusCancelled
)

// Well-known event types.

const (
	EventDecision          = api.EventDecision
	EventApprovalRequested = api.EventApprovalRequested
	EventEscalation        = api.EventEscalation
)

// System bundles the engine with its collaborators so callers can reach
// the bus, catalog and metrics directly.
type System struct {
	Engine  api.Engine
	Bus     *bus.EventBus
	Catalog *catalog.Catalog
	Metrics *metrics.Recorder
	Gateway *approval.Gateway
}

// Options tunes a System. The zero value is usable: built-in templates,
// a log-backed notifier, default polling and timeouts.
type Options struct {
	Notifier api.Notifier
	Observer api.Observer
	Logger   *slog.Logger

	// PollInterval is how often approval waits re-read decisions.
	PollInterval time.Duration

	// GateTimeout bounds approval waits for gates without their own
	// timeout.
	GateTimeout time.Duration

	// ApprovalChannel / EscalationChannel name the notification targets.
	ApprovalChannel   string
	EscalationChannel string
}

func assemble(ctx context.Context, log eventlog.Log, runs runstore.Store, store metrics.Store, opts Options) (*System, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := bus.New(bus.Config{Log: log, Logger: logger})

	rec, err := metrics.NewRecorder(ctx, store, logger)
	if err != nil {
		return nil, err
	}

	gw := approval.New(approval.Config{
		Bus:          b,
		Notifier:     opts.Notifier,
		Logger:       logger,
		PollInterval: opts.PollInterval,
	})

	cat := catalog.NewWithBuiltins()

	eng := engine.New(engine.Config{
		Catalog:           cat,
		Bus:               b,
		Gateway:           gw,
		Metrics:           rec,
		Runs:              runs,
		Observer:          opts.Observer,
		Logger:            logger,
		ApprovalChannel:   opts.ApprovalChannel,
		EscalationChannel: opts.EscalationChannel,
		GateTimeout:       opts.GateTimeout,
	})

	return &System{Engine: eng, Bus: b, Catalog: cat, Metrics: rec, Gateway: gw}, nil
}

// NewInMemorySystem returns a System backed entirely by in-memory stores.
// Best for tests and examples.
func NewInMemorySystem(opts Options) *System {
	sys, err := assemble(context.Background(),
		eventlog.NewMemoryLog(),
		runstore.NewMemoryStore(),
		metrics.NewMemoryStore(),
		opts,
	)
	if err != nil {
		// Memory stores cannot fail to load.
		panic(err)
	}
	return sys
}

// NewFileSystem returns a System that persists the event log and metrics
// as JSON documents under dir (events.json and metrics.json), with runs
// kept in memory.
func NewFileSystem(ctx context.Context, dir string, opts Options) (*System, error) {
	return assemble(ctx,
		eventlog.NewFileLog(filepath.Join(dir, "events.json")),
		runstore.NewMemoryStore(),
		metrics.NewFileStore(filepath.Join(dir, "metrics.json")),
		opts,
	)
}

// NewSQLiteSystem returns a System that persists the event log, runs and
// metrics in a SQLite database.
//
// It expects an *sql.DB using a SQLite driver (for example,
// "modernc.org/sqlite"); the caller imports the driver.
func NewSQLiteSystem(ctx context.Context, db *sql.DB, opts Options) (*System, error) {
	log, err := eventlog.NewSQLiteLog(db)
	if err != nil {
		return nil, err
	}
	runs, err := runstore.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	store, err := metrics.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return assemble(ctx, log, runs, store, opts)
}

// NewPostgresSystem returns a System that persists the event log in
// PostgreSQL. Runs and metrics stay in memory; use NewSQLiteSystem when
// everything must survive restarts.
func NewPostgresSystem(ctx context.Context, db *sql.DB, opts Options) (*System, error) {
	log, err := eventlog.NewPostgresLog(db)
	if err != nil {
		return nil, err
	}
	return assemble(ctx, log, runstore.NewMemoryStore(), metrics.NewMemoryStore(), opts)
}

// NewRedisSystem returns a System that persists the event log in Redis
// under the given key prefix.
func NewRedisSystem(ctx context.Context, client *redis.Client, prefix string, opts Options) (*System, error) {
	return assemble(ctx,
		eventlog.NewRedisLog(client, prefix),
		runstore.NewMemoryStore(),
		metrics.NewMemoryStore(),
		opts,
	)
}

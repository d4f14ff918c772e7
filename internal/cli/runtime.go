package cli

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/roach88/icm/internal/commission"
	"github.com/roach88/icm/internal/config"
	"github.com/roach88/icm/internal/engine"
	"github.com/roach88/icm/internal/events"
	"github.com/roach88/icm/internal/execlog"
	"github.com/roach88/icm/internal/execlog/redisarchive"
	"github.com/roach88/icm/internal/mongostore"
	"github.com/roach88/icm/internal/plan"
	"github.com/roach88/icm/internal/source"
	"github.com/roach88/icm/internal/store"
)

// planStore is what the commands need from a plan store. Both the SQLite
// store and the MongoDB store satisfy it.
type planStore interface {
	engine.PlanStore
	SavePlan(ctx context.Context, p plan.IncentivePlan) error
	ExecutionResult(ctx context.Context, executionID string) (commission.Result, error)
}

var (
	_ planStore = (*store.Store)(nil)
	_ planStore = (*mongostore.Store)(nil)
)

// runtime holds the collaborators a command opened from configuration.
// The SQLite database is always opened; MongoDB and Redis replace the plan
// store and the log archive when configured.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *store.Store
	plans   planStore
	archive execlog.Archive
	closers []func(context.Context) error
}

func openRuntime(ctx context.Context, opts *RootOptions) (*runtime, error) {
	cfg, err := opts.config()
	if err != nil {
		return nil, err
	}
	logger, err := opts.logger(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger}
	db, err := store.Open(cfg.DatabasePath, store.WithLogger(logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	rt.db = db
	rt.plans = db
	rt.archive = db.LogArchive()
	logger.Debug("database ready", zap.String("path", cfg.DatabasePath))

	if cfg.MongoURI != "" {
		ms, disconnect, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, mongostore.WithLogger(logger))
		if err != nil {
			_ = rt.Close(ctx)
			return nil, WrapExitError(ExitCommandError, "failed to connect to mongodb", err)
		}
		rt.plans = ms
		rt.closers = append(rt.closers, disconnect)
		logger.Debug("plan store: mongodb", zap.String("database", cfg.MongoDatabase))
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = rt.Close(ctx)
			return nil, WrapExitError(ExitCommandError, "failed to connect to redis", err)
		}
		rt.archive = redisarchive.New(client, cfg.LogTTL)
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
		logger.Debug("log archive: redis", zap.String("addr", cfg.RedisAddr))
	}

	return rt, nil
}

// Close releases everything in reverse order of opening.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}
	if rt.db != nil {
		errs = append(errs, rt.db.Close())
	}
	_ = rt.logger.Sync()
	return errors.Join(errs...)
}

// logStore creates the execution log store backed by the archive.
func (rt *runtime) logStore() *execlog.Store {
	return execlog.NewStore(
		execlog.WithTTL(rt.cfg.LogTTL),
		execlog.WithArchive(rt.archive),
		execlog.WithLogger(rt.logger),
	)
}

// source picks the transaction source: a records file when given, the
// HTTP source when a base URL is configured, else the local database.
func (rt *runtime) source(recordsPath string) (source.Client, error) {
	switch {
	case recordsPath != "":
		c, err := source.NewMemoryClientFromFile(recordsPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load records", err)
		}
		rt.logger.Debug("transaction source: file", zap.String("path", recordsPath))
		return c, nil
	case rt.cfg.SourceBaseURL != "":
		hc := source.DefaultHTTPConfig()
		hc.BaseURL = rt.cfg.SourceBaseURL
		hc.PageSize = rt.cfg.SourcePageSize
		hc.MaxRetries = rt.cfg.SourceMaxRetries
		hc.BreakerFailures = rt.cfg.BreakerFailures
		hc.BreakerTimeout = rt.cfg.BreakerTimeout
		c, err := source.NewHTTPClient(hc, source.WithLogger(rt.logger))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid transaction source", err)
		}
		rt.logger.Debug("transaction source: http", zap.String("base_url", hc.BaseURL))
		return c, nil
	default:
		rt.logger.Debug("transaction source: database")
		return rt.db.Transactions(), nil
	}
}

// publisher returns the Kafka publisher when brokers are configured.
func (rt *runtime) publisher() (*events.KafkaPublisher, error) {
	if len(rt.cfg.KafkaBrokers) == 0 {
		return nil, nil
	}
	p, err := events.NewKafkaPublisher(rt.cfg.KafkaBrokers, rt.cfg.KafkaTopic)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid kafka settings", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error { return p.Close() })
	return p, nil
}

// tracerProvider reports engine stage spans to the debug log.
func (rt *runtime) tracerProvider() *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanLogger{logger: rt.logger}))
	rt.closers = append(rt.closers, tp.Shutdown)
	return tp
}

// spanLogger is a span processor that logs finished spans.
type spanLogger struct {
	logger *zap.Logger
}

func (spanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (s spanLogger) OnEnd(span sdktrace.ReadOnlySpan) {
	s.logger.Debug("span",
		zap.String("name", span.Name()),
		zap.Duration("elapsed", span.EndTime().Sub(span.StartTime())),
		zap.String("status", span.Status().Code.String()))
}

func (spanLogger) Shutdown(context.Context) error   { return nil }
func (spanLogger) ForceFlush(context.Context) error { return nil }

func notFound(err error) bool {
	return errors.Is(err, plan.ErrNotFound) ||
		errors.Is(err, execlog.ErrNotFound) ||
		errors.Is(err, store.ErrResultNotFound) ||
		errors.Is(err, mongostore.ErrResultNotFound)
}

func describeStore(p planStore) string {
	switch p.(type) {
	case *mongostore.Store:
		return "mongodb"
	default:
		return "sqlite"
	}
}

// Package bootstrap wires Herald's components from configuration. Every
// binary under cmd/ builds a Stack and takes the pieces it needs.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"herald/internal/auth"
	"herald/internal/config"
	"herald/internal/db"
	"herald/internal/external"
	notifcore "herald/internal/notifications/core"
	"herald/internal/notifications/render"
	"herald/internal/queue"
	"herald/internal/scheduler"
	"herald/internal/tenants"
	"herald/internal/types"
)

// NewLogger returns a JSON slog logger at the given level, tagged with the
// service name.
func NewLogger(level, service string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h).With("service", service)
}

// LoadConfig loads configuration, resolving SSM pointers outside local mode.
func LoadConfig() (*config.Config, error) {
	if os.Getenv("APP_ENV") == "local" {
		return config.LoadConfig(config.NewEnvVarProvider())
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.LoadConfig(config.NewSSMProvider(region))
}

// AWSConfig loads the SDK configuration, honouring AWS_ENDPOINT_URL for
// LocalStack.
func AWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	if cfg.AWS.EndpointURL != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading aws config: %w", err)
	}
	return awsCfg, nil
}

// DeliveryMetrics selects the dispatch metrics backend. reg is used only
// for the prometheus backend.
func DeliveryMetrics(cfg *config.Config, awsCfg aws.Config, reg prometheus.Registerer, logger *slog.Logger) notifcore.DeliveryMetrics {
	switch cfg.Observability.MetricsBackend {
	case "cloudwatch":
		return notifcore.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, types.NewSlogLogger(logger))
	case "prometheus":
		return notifcore.NewPrometheusMetrics(reg)
	default:
		return notifcore.NoopMetrics{}
	}
}

// Stack holds the shared repositories and services.
type Stack struct {
	Config *config.Config
	AWS    aws.Config
	Logger *slog.Logger
	Pool   *pgxpool.Pool

	Applications *db.ApplicationRepository
	APIKeys      *db.APIKeyRepository
	Jobs         *db.JobRepository
	Attempts     *db.AttemptRepository
	DeadLetters  *db.DeadLetterRepository
	Locks        *db.JobLockRepository
	History      *db.JobHistoryRepository

	Dispatcher *queue.Dispatcher
	Toucher    *auth.Toucher
	Keys       *auth.KeyService
	Clients    *external.ClientRegistry
	Tenants    *tenants.Registry
	Renderer   *render.Renderer

	// Publisher is nil when SQS_DLQ is unset.
	Publisher notifcore.DeadLetterPublisher
}

// NewStack connects to Postgres and builds every shared component.
func NewStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	awsCfg, err := AWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	s := &Stack{
		Config:       cfg,
		AWS:          awsCfg,
		Logger:       logger,
		Pool:         pool,
		Applications: db.NewApplicationRepository(pool),
		APIKeys:      db.NewAPIKeyRepository(pool),
		Jobs:         db.NewJobRepository(pool),
		Attempts:     db.NewAttemptRepository(pool),
		DeadLetters:  db.NewDeadLetterRepository(pool),
		Locks:        db.NewJobLockRepository(pool),
		History:      db.NewJobHistoryRepository(pool),
	}

	s.Dispatcher = queue.NewDispatcher(queue.DispatcherConfig{
		Jobs:   s.Jobs,
		Tx:     db.NewTxManager(pool),
		Logger: logger.With("component", "queue"),
	})
	s.Toucher = auth.NewToucher(s.APIKeys, auth.ToucherConfig{
		Interval:  cfg.Auth.TouchInterval,
		BatchSize: cfg.Auth.TouchBatch,
		Buffer:    cfg.Auth.TouchBuffer,
	}, types.RealClock{}, logger.With("component", "key_toucher"))
	s.Keys = auth.NewKeyService(auth.KeyServiceConfig{
		Keys:         s.APIKeys,
		Applications: s.Applications,
		Hasher:       auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Toucher:      s.Toucher,
		Logger:       logger.With("component", "credentials"),
	})

	s.Clients, err = external.NewClientRegistry(cfg, awsCfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	var provisioner tenants.Provisioner
	if s.Clients.Provisioner != nil {
		provisioner = s.Clients.Provisioner
	}
	s.Tenants = tenants.NewRegistry(tenants.RegistryConfig{
		Applications: s.Applications,
		Credentials:  s.Keys,
		Jobs:         s.Dispatcher,
		Provisioner:  provisioner,
		Logger:       logger.With("component", "tenants"),
	})

	s.Renderer, err = render.NewRenderer(cfg.Email.FromName)
	if err != nil {
		pool.Close()
		return nil, err
	}

	if cfg.AWS.DeadLetterQueueURL != "" {
		s.Publisher = queue.NewDeadLetterPublisher(sqs.NewFromConfig(awsCfg), cfg.AWS.DeadLetterQueueURL, logger.With("component", "dlq"))
	}
	return s, nil
}

// Close releases the database pool.
func (s *Stack) Close() {
	s.Pool.Close()
}

// DeliveryManager builds the outcome state machine over the stack's queue
// and stores.
func (s *Stack) DeliveryManager(metrics notifcore.DeliveryMetrics) *notifcore.DeliveryManager {
	return notifcore.NewDeliveryManager(notifcore.DeliveryManagerConfig{
		Queue:       s.Dispatcher,
		DeadLetters: s.DeadLetters,
		Publisher:   s.Publisher,
		Attempts:    s.Attempts,
		Metrics:     metrics,
		Policy:      notifcore.RetryPolicyFromConfig(s.Config.Worker),
		Logger:      s.Logger.With("component", "delivery"),
	})
}

// MaintenanceRunner builds the maintenance task runner.
func (s *Stack) MaintenanceRunner(metrics notifcore.DeliveryMetrics, workerID string) *scheduler.Runner {
	return scheduler.NewRunner(scheduler.RunnerConfig{
		Services: scheduler.Services{
			Orphans:     s.Tenants,
			DeadLetters: scheduler.NewDeadLetterSweeper(s.DeadLetters, s.Publisher, metrics, types.RealClock{}, s.Logger.With("component", "dlq_sweeper")),
			Jobs:        s.Dispatcher,
		},
		Locks:       s.Locks,
		History:     s.History,
		Metrics:     metrics,
		WorkerID:    workerID,
		OrphanGrace: s.Config.Maintenance.OrphanGrace,
		LockTTL:     s.Config.Maintenance.LockTTL,
		Logger:      s.Logger.With("component", "maintenance"),
	})
}

// MaintenanceSchedules maps each task to its cron spec.
func MaintenanceSchedules(cfg config.MaintenanceConfig) map[scheduler.TaskType]string {
	return map[scheduler.TaskType]string{
		scheduler.TaskReconcileOrphans:  cfg.ReconcileSchedule,
		scheduler.TaskDeadLetterSummary: cfg.DeadLetterSchedule,
		scheduler.TaskStaleLeases:       cfg.StaleLeaseSchedule,
	}
}

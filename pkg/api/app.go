package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	redigo "github.com/garyburd/redigo/redis"
	"github.com/golangci/repohealth/internal/api/transportutil"
	"github.com/golangci/repohealth/internal/api/util"
	"github.com/golangci/repohealth/internal/shared/analytics"
	"github.com/golangci/repohealth/internal/shared/apperrors"
	"github.com/golangci/repohealth/internal/shared/cache"
	"github.com/golangci/repohealth/internal/shared/config"
	"github.com/golangci/repohealth/internal/shared/db/gormdb"
	"github.com/golangci/repohealth/internal/shared/db/migrations"
	"github.com/golangci/repohealth/internal/shared/db/redis"
	"github.com/golangci/repohealth/internal/shared/logutil"
	"github.com/golangci/repohealth/internal/shared/providers"
	"github.com/golangci/repohealth/internal/shared/queue/aws/consumer"
	"github.com/golangci/repohealth/internal/shared/queue/aws/sqs"
	"github.com/golangci/repohealth/internal/shared/queue/consumers"
	"github.com/golangci/repohealth/internal/shared/queue/memory"
	"github.com/golangci/repohealth/internal/shared/queue/producers"
	"github.com/golangci/repohealth/pkg/api/services/health"
	"github.com/golangci/repohealth/pkg/health/classifier"
	"github.com/golangci/repohealth/pkg/health/crons"
	"github.com/golangci/repohealth/pkg/health/invalidation"
	"github.com/golangci/repohealth/pkg/health/orchestrator"
	"github.com/golangci/repohealth/pkg/health/runlock"
	"github.com/golangci/repohealth/pkg/health/runstore"
	"github.com/golangci/repohealth/pkg/health/settings"
	"github.com/golangci/repohealth/pkg/health/viewcache"
	"github.com/golangci/repohealth/pkg/health/workers"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/urfave/negroni"
	redsync "gopkg.in/redsync.v1"
)

const localQueueMaxAttempts = 3

type appServices struct {
	health health.Service
}

type queues struct {
	runsSQS    *sqs.Queue
	runsDLQSQS *sqs.Queue
	runsLocal  *memory.Queue

	consumers *consumers.Multiplexer

	producers struct {
		multiplexer *producers.Multiplexer
		runs        *workers.RunProducer
	}
}

type App struct {
	cfg              config.Config
	log              logutil.Log
	trackedLog       logutil.Log
	errTracker       apperrors.Tracker
	settings         *settings.Settings
	sqlDB            *sql.DB
	runStore         runstore.Store
	migrationsRunner *migrations.Runner
	services         appServices
	awsSess          *session.Session
	queues           queues
	providerFactory  providers.Factory
	analyticsTracker analytics.Tracker
	distLockFactory  *redsync.Redsync
	redisPool        *redigo.Pool
	cache            cache.Cache
	invalidator      invalidation.Gateway
	viewCache        *viewcache.ViewCache
	orchestrator     *orchestrator.Orchestrator

	restarter *crons.Restarter
	rechecker *crons.Rechecker
}

//nolint:gocyclo
func (a *App) buildDeps() {
	if a.log == nil {
		slog := logutil.NewStderrLog("repohealth")
		slog.SetLevel(logutil.LogLevelInfo)
		a.log = slog
	}

	if a.cfg == nil {
		a.cfg = config.NewEnvConfig(a.log)
	}
	if level := a.cfg.GetString("LOG_LEVEL"); level != "" {
		a.log.SetLevel(logutil.ParseLogLevel(level, logutil.LogLevelInfo))
	}
	if slog, ok := a.log.(*logutil.StderrLog); ok && a.cfg.GetString("LOG_FORMAT") == "json" {
		slog.UseJSONFormat()
	}

	if a.errTracker == nil {
		a.errTracker = apperrors.GetTracker(a.cfg, a.log, "api")
	}
	if a.trackedLog == nil {
		a.trackedLog = apperrors.WrapLogWithTracker(a.log, nil, a.errTracker)
	}

	if a.settings == nil {
		s, err := settings.FromConfig(a.cfg)
		if err != nil {
			a.log.Fatalf("Invalid health settings: %s", err)
		}
		a.settings = s
	}

	if a.runStore == nil {
		a.buildRunStore()
	}

	if a.providerFactory == nil {
		a.providerFactory = providers.NewBasicFactory(a.cfg, a.trackedLog)
	}

	if a.analyticsTracker == nil {
		a.analyticsTracker = analytics.NewTracker(a.cfg, a.trackedLog)
	}

	if a.redisPool == nil {
		redisPool, err := redis.GetPool(a.cfg)
		if err != nil {
			a.log.Fatalf("Can't get redis pool: %s", err)
		}
		a.redisPool = redisPool
	}
	a.distLockFactory = redsync.New([]redsync.Pool{a.redisPool})
	a.cache = cache.NewRedis(a.redisPool)
	a.invalidator = invalidation.NewCacheGateway(a.cache, a.trackedLog)
}

func (a *App) buildRunStore() {
	dbConnString, err := gormdb.GetDBConnString(a.cfg)
	if err != nil {
		a.log.Infof("No database configured (%s), keeping analysis runs in memory", err)
		a.runStore = runstore.NewMemoryStore(nil)
		return
	}

	sqlDB, err := gormdb.GetSQLDB(a.cfg, dbConnString)
	if err != nil {
		a.log.Fatalf("Can't get DB: %s", err)
	}
	a.sqlDB = sqlDB
	a.runStore = runstore.NewGormStore(sqlDB, a.trackedLog)
}

func (a *App) buildAwsSess() {
	region := a.cfg.GetString("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	awsCfg := aws.NewConfig().WithRegion(region)
	if a.cfg.GetBool("AWS_DEBUG", false) {
		awsCfg = awsCfg.WithLogLevel(aws.LogDebugWithHTTPBody)
	}
	endpoint := a.cfg.GetString("SQS_ENDPOINT")
	if endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(endpoint)
	}
	awsSess, err := session.NewSession(awsCfg)
	if err != nil {
		a.log.Fatalf("Can't make aws session: %s", err)
	}
	a.awsSess = awsSess
}

func (a *App) buildQueues() {
	a.queues.consumers = consumers.NewMultiplexer()

	if url := a.cfg.GetString("SQS_RUNS_QUEUE_URL"); url != "" {
		a.buildAwsSess()
		opts := workers.SQSOptions(*a.settings)
		if a.settings.LockTTL <= time.Duration(opts.VisibilityTimeoutSec)*time.Second {
			a.log.Warnf("Lock TTL %s isn't above the runs queue visibility timeout %ds: "+
				"runs of crashed executors will fail with lock-lost instead of resuming",
				a.settings.LockTTL, opts.VisibilityTimeoutSec)
		}
		a.queues.runsSQS = sqs.NewQueue(url, a.awsSess, a.trackedLog, opts)
		if dlqURL := a.cfg.GetString("SQS_RUNSDEADLETTER_QUEUE_URL"); dlqURL != "" {
			a.queues.runsDLQSQS = sqs.NewQueue(dlqURL, a.awsSess, a.trackedLog, opts)
		}
		a.queues.producers.multiplexer = producers.NewMultiplexer(a.queues.runsSQS)
	} else {
		a.log.Infof("No SQS queue configured, executing analysis runs in process")
		a.queues.runsLocal = memory.NewQueue(a.queues.consumers, a.trackedLog,
			workers.ConsumerTimeout, localQueueMaxAttempts)
		a.queues.producers.multiplexer = producers.NewMultiplexer(a.queues.runsLocal)
	}

	runs := &workers.RunProducer{}
	if err := runs.Register(a.queues.producers.multiplexer); err != nil {
		a.log.Fatalf("Failed to create 'run health analysis' producer: %s", err)
	}
	a.queues.producers.runs = runs
}

func (a *App) buildOrchestrator() {
	p, err := a.providerFactory.Build()
	if err != nil {
		a.log.Fatalf("Can't build metrics provider: %s", err)
	}

	a.orchestrator = orchestrator.New(
		a.runStore,
		runlock.NewRedis(a.redisPool, a.settings.LockTTL),
		p,
		classifier.Default(),
		a.invalidator,
		a.analyticsTracker,
		a.queues.producers.runs,
		*a.settings,
		a.trackedLog,
	)

	runConsumer := workers.NewRunConsumer(a.trackedLog, a.orchestrator)
	if err := runConsumer.Register(a.queues.consumers, a.distLockFactory); err != nil {
		a.log.Fatalf("Failed to register health analysis run consumer: %s", err)
	}
}

func (a *App) buildServices() {
	a.viewCache = viewcache.New(a.cache, a.settings.CacheBands, a.settings.StoreTimeout, a.trackedLog)
	a.services.health = health.BasicService{
		Requester:  a.orchestrator,
		Store:      a.runStore,
		Views:      a.viewCache,
		Policy:     a.settings.FreshnessPolicy(),
		Classifier: classifier.Default(),
	}
}

func (a *App) buildMigrationsRunner() {
	if a.sqlDB == nil {
		return
	}

	dbConnString, err := gormdb.GetDBConnString(a.cfg)
	if err != nil {
		a.log.Fatalf("Can't get DB conn string: %s", err)
	}
	a.migrationsRunner = migrations.NewRunner(a.distLockFactory.NewMutex("migrations"), a.trackedLog,
		dbConnString, util.GetProjectRoot())
}

func (a *App) buildCrons() {
	a.restarter = &crons.Restarter{
		Store:       a.runStore,
		Queue:       a.queues.producers.runs,
		Log:         a.trackedLog,
		LockTTL:     a.settings.LockTTL,
		Invalidator: a.invalidator,
	}
	a.rechecker = &crons.Rechecker{
		Store:     a.runStore,
		Requester: a.orchestrator,
		Log:       a.trackedLog,
		Window:    a.settings.FreshnessWindow,
		Interval:  a.cfg.GetDuration("HEALTH_RECHECK_INTERVAL", time.Hour),
		BatchSize: a.cfg.GetInt("HEALTH_RECHECK_BATCH_SIZE", 100),
	}
}

func NewApp(modifiers ...Modifier) *App {
	a := App{}
	for _, m := range modifiers {
		m(&a)
	}
	a.buildDeps()
	a.buildQueues()
	a.buildOrchestrator()
	a.buildServices()
	a.buildMigrationsRunner()
	a.buildCrons()

	return &a
}

func (a App) registerHandlers(r *mux.Router) {
	regCtx := &transportutil.HandlerRegContext{
		Router:     r,
		Log:        a.log,
		ErrTracker: a.errTracker,
	}
	health.RegisterHandlers(a.services.health, regCtx)
}

func (a App) runMigrations() {
	if a.migrationsRunner == nil {
		return
	}

	if err := a.migrationsRunner.Run(); err != nil {
		a.log.Fatalf("Can't run migrations: %s", err)
	}
}

func (a App) runConsumers() {
	if a.queues.runsSQS == nil {
		return // local queue delivers on put
	}

	runsConsumer := consumer.NewSQS(a.trackedLog, a.cfg, a.queues.runsSQS,
		a.queues.consumers, "runs", workers.VisibilityTimeoutSec)
	go runsConsumer.Run()
}

func (a App) RunDeadLetterConsumers() {
	if a.queues.runsDLQSQS == nil {
		a.log.Fatalf("No SQS_RUNSDEADLETTER_QUEUE_URL in config")
	}

	runsDLQConsumer := consumer.NewSQS(a.trackedLog, a.cfg, a.queues.runsDLQSQS,
		a.queues.consumers, "runsDeadLetter", workers.VisibilityTimeoutSec)
	runsDLQConsumer.Run()
}

// RequestAnalysis starts an analysis bypassing the HTTP API.
func (a App) RequestAnalysis(ctx context.Context, owner, project string) (*orchestrator.RunHandle, error) {
	return a.orchestrator.RequestAnalysis(ctx, owner, project)
}

// WaitLocalRuns blocks until runs scheduled to the in-process queue complete.
func (a App) WaitLocalRuns() {
	if a.queues.runsLocal != nil {
		a.queues.runsLocal.Wait()
	}
	a.viewCache.Wait()
}

func (a App) RunEnvironment(ctx context.Context) {
	a.runMigrations()
	a.runConsumers()

	go a.restarter.Run(ctx)
	go a.rechecker.Run(ctx)
}

func (a App) RunForever() {
	a.RunEnvironment(context.Background())

	http.Handle("/", a.GetHTTPHandler())

	addr := fmt.Sprintf(":%d", a.cfg.GetInt("PORT", 3000))
	a.log.Infof("Listening on %s...", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		a.log.Errorf("Can't listen HTTP on %s: %s", addr, err)
		os.Exit(1)
	}
}

func (a App) GetHTTPHandler() http.Handler {
	r := mux.NewRouter()
	a.registerHandlers(r)

	allowedOrigins := a.cfg.GetStringList("CORS_ALLOWED_ORIGINS")
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
	})

	n := negroni.Classic()
	n.Use(c)
	n.UseHandler(r)
	return n
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-auditor/internal/archive"
	"ledger-auditor/internal/cache"
	"ledger-auditor/internal/config"
	"ledger-auditor/internal/db"
	"ledger-auditor/internal/handlers"
	"ledger-auditor/internal/lock"
	"ledger-auditor/internal/logger"
	"ledger-auditor/internal/queue"
	"ledger-auditor/internal/repository"
	"ledger-auditor/internal/router"
	"ledger-auditor/internal/scheduler"
	"ledger-auditor/internal/services"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func main() {
	once := flag.Bool("once", false, "run a single job and exit")
	jobName := flag.String("job", services.JobLedgerIntegrityCheck, "job to run with -once")
	flag.Parse()

	cfg := config.LoadConfig()

	log := logger.InitLogger(cfg.LogLevel, cfg.LogPretty)
	log.Info().Msg("Ledger auditor starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.InitDB(cfg.DBUrl, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer database.Close()

	if err := db.RunMigrations(database, log); err != nil {
		log.Fatal().Err(err).Msg("Migrations failed")
	}

	policies, err := services.LoadDriftPolicies(cfg.Audit.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load drift policies")
	}
	jobs, err := services.BuildJobs(policies, cfg.Audit.IntegrityCheckInterval, cfg.Audit.BalanceReconciliationInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build jobs")
	}

	ledgerRepo := repository.NewLedgerRepository(database, log)
	userRepo := repository.NewUserRepository(database, log)
	runRepo := repository.NewRunRepository(database, log)
	alertRepo := repository.NewAlertRepository(database, log)

	redisClient := connectRedis(cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	deps := services.ReconciliationDeps{
		Ledger:  ledgerRepo,
		Runs:    runRepo,
		Balance: services.NewBalanceService(ledgerRepo, userRepo, log),
		Locker:  newLocker(cfg, redisClient, database, log),
	}

	var suppressor services.AlertSuppressor
	if redisClient != nil && cfg.Audit.SuppressionWindow > 0 {
		suppressor = cache.NewAlertSuppressor(redisClient, cfg.Audit.SuppressionWindow)
		log.Info().Dur("window", cfg.Audit.SuppressionWindow).Msg("Alert suppression enabled")
	}
	deps.Classifier = services.NewDriftClassifier(alertRepo, suppressor, log)

	emailQueue, closeQueue := newNotificationQueue(cfg, database, log)
	defer closeQueue()
	deps.Notifier = services.NewNotificationService(emailQueue, userRepo, cfg.Audit.TopN, log)

	mongoClient := connectMongo(cfg, log)
	if mongoClient != nil {
		defer mongoClient.Disconnect(context.Background())
		deps.Archive = archive.NewRunArchive(mongoClient, cfg.MongoDatabase)
	}

	reconciliation := services.NewReconciliationService(deps, services.ReconciliationOptions{
		Workers:                 cfg.Audit.Workers,
		TopN:                    cfg.Audit.TopN,
		AcceptableDiscrepancies: cfg.Audit.AcceptableDiscrepancies,
	}, log)

	sched := scheduler.New(reconciliation, jobs, log)

	if *once {
		summary, err := sched.RunOnce(ctx, *jobName)
		if err != nil {
			log.Error().Err(err).Str("job", *jobName).Msg("Run failed")
			os.Exit(1)
		}
		log.Info().
			Str("job", *jobName).
			Int64("run_id", summary.RunID).
			Str("status", string(summary.Status)).
			Int("discrepancies", summary.DiscrepanciesFound).
			Msg("Run completed")
		return
	}

	r := router.SetupRouter(router.Handlers{
		Reconciliation: handlers.NewReconciliationHandler(reconciliation, sched, log),
		Balance:        handlers.NewBalanceHandler(reconciliation, jobs, log),
		Health:         handlers.NewHealthHandler(database, log),
	}, cfg.JWTSecret, log)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sched.Start(ctx)

	go func() {
		log.Info().Msgf("Server listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
	sched.Wait()

	log.Info().Msg("Ledger auditor stopped")
}

func connectRedis(cfg config.Config, log zerolog.Logger) *redis.Client {
	if cfg.RedisAddress == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis unreachable, falling back to MySQL locks")
		client.Close()
		return nil
	}
	log.Info().Str("address", cfg.RedisAddress).Msg("Connected to Redis")
	return client
}

func newLocker(cfg config.Config, rdb *redis.Client, database *sql.DB, log zerolog.Logger) services.RunLocker {
	if rdb != nil {
		return lock.NewRedisLocker(rdb, cfg.Audit.LockTTL, log)
	}
	return lock.NewMySQLLocker(database, log)
}

func newNotificationQueue(cfg config.Config, database *sql.DB, log zerolog.Logger) (services.NotificationQueue, func()) {
	dbQueue := repository.NewEmailQueueRepository(database, log)
	if cfg.NotificationQueue != "rabbitmq" {
		return dbQueue, func() {}
	}
	if cfg.RabbitMQURL == "" {
		log.Warn().Msg("NOTIFICATION_QUEUE=rabbitmq but RABBITMQ_URL is empty, using email_queue table")
		return dbQueue, func() {}
	}

	conn, err := amqp.DialConfig(cfg.RabbitMQURL, amqp.Config{
		Properties: amqp.Table{"connection_name": "ledger-auditor"},
	})
	if err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unreachable, using email_queue table")
		return dbQueue, func() {}
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		log.Warn().Err(err).Msg("Failed to open RabbitMQ channel, using email_queue table")
		return dbQueue, func() {}
	}
	if err := queue.DeclareExchange(ch, cfg.EmailExchange); err != nil {
		ch.Close()
		conn.Close()
		log.Warn().Err(err).Msg("Using email_queue table")
		return dbQueue, func() {}
	}

	log.Info().Str("exchange", cfg.EmailExchange).Msg("Publishing report emails to RabbitMQ")
	closer := func() {
		ch.Close()
		conn.Close()
	}
	return queue.NewEmailPublisher(ch, cfg.EmailExchange, cfg.EmailRoutingKey, log), closer
}

func connectMongo(cfg config.Config, log zerolog.Logger) *mongo.Client {
	if cfg.MongoURI == "" {
		return nil
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create MongoDB client, run archive disabled")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		log.Warn().Err(err).Msg("MongoDB unreachable, run archive disabled")
		client.Disconnect(context.Background())
		return nil
	}
	log.Info().Str("database", cfg.MongoDatabase).Msg("Connected to MongoDB")
	return client
}

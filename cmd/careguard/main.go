package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careguard/careguard/internal/compliance"
	"github.com/careguard/careguard/internal/config"
	"github.com/careguard/careguard/internal/deploy"
	"github.com/careguard/careguard/internal/domain/audit"
	"github.com/careguard/careguard/internal/domain/billing"
	"github.com/careguard/careguard/internal/domain/labresult"
	"github.com/careguard/careguard/internal/domain/patient"
	"github.com/careguard/careguard/internal/domain/task"
	"github.com/careguard/careguard/internal/domain/workflow"
	"github.com/careguard/careguard/internal/finops"
	"github.com/careguard/careguard/internal/pipeline"
	"github.com/careguard/careguard/internal/platform/auth"
	"github.com/careguard/careguard/internal/platform/awsclient"
	"github.com/careguard/careguard/internal/platform/db"
	"github.com/careguard/careguard/internal/platform/events"
	"github.com/careguard/careguard/internal/platform/middleware"
	"github.com/careguard/careguard/internal/platform/objectstore"
	"github.com/careguard/careguard/internal/platform/phi"
	"github.com/careguard/careguard/internal/platform/telemetry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careguard",
		Short: "Healthcare compliance and PHI protection platform",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(costsCmd())
	rootCmd.AddCommand(deployCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Use Atlas CLI for migration rollback: atlas schema apply --dir migrations/")
			return nil
		},
	})

	return cmd
}

func pipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline",
		Short: "Run the document processing pipeline consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.PipelineQueue == "" {
				return fmt.Errorf("PIPELINE_QUEUE is required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			clients, err := awsclient.New(ctx, cfg.AWSRegion)
			if err != nil {
				return err
			}

			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			auditor := audit.NewService(audit.NewRepo(pool), logger)
			metrics := telemetry.NewCloudWatchPublisher(clients.CloudWatch, cfg.MetricsNamespace, logger)

			var detector phi.Detector = phi.NewComprehendDetector(clients.ComprehendMedical)
			if cfg.IsDev() {
				detector = phi.NewPatternDetector()
			}

			processor := pipeline.NewProcessor(
				objectstore.NewS3Store(clients.S3, ""),
				detector,
				auditor,
				metrics,
				clients.SNS,
				pipeline.Config{
					ProcessedBucket:  cfg.ProcessedBucket,
					QuarantineBucket: cfg.QuarantineBucket,
					PIIThreshold:     cfg.PIIThreshold,
					SNSTopicARN:      cfg.SNSTopicARN,
				},
				logger,
			)

			queueURL, err := resolveQueueURL(ctx, clients.SQS, cfg.PipelineQueue)
			if err != nil {
				return err
			}

			consumer := pipeline.NewConsumer(clients.SQS, queueURL, processor, logger)
			return consumer.Run(ctx)
		},
	}
}

// resolveQueueURL accepts either a queue URL or a queue name.
func resolveQueueURL(ctx context.Context, client *sqs.Client, queue string) (string, error) {
	if strings.HasPrefix(queue, "http://") || strings.HasPrefix(queue, "https://") {
		return queue, nil
	}
	out, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queue)})
	if err != nil {
		return "", fmt.Errorf("resolving queue %s: %w", queue, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

func costsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Cost analysis and rightsizing",
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Scan for unattached volumes and idle instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonPath, _ := cmd.Flags().GetString("json")
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			clients, err := awsclient.New(ctx, cfg.AWSRegion)
			if err != nil {
				return err
			}

			analyzer := finops.NewAnalyzer(clients.EC2, clients.CloudWatch, logger)
			report, err := analyzer.Analyze(ctx)
			if err != nil {
				return err
			}

			printReport(report)

			if jsonPath != "" {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
					return fmt.Errorf("writing report: %w", err)
				}
				fmt.Printf("\nReport saved to: %s\n", jsonPath)
			}
			return nil
		},
	}
	analyzeCmd.Flags().String("json", "", "Write the report as JSON to this path")
	cmd.AddCommand(analyzeCmd)

	rightsizeCmd := &cobra.Command{
		Use:   "rightsize <instance-id>",
		Short: "Downsize an over-provisioned instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			clients, err := awsclient.New(ctx, cfg.AWSRegion)
			if err != nil {
				return err
			}

			rightsizer := finops.NewRightsizer(clients.EC2, clients.CloudWatch, dryRun, logger)
			plan, err := rightsizer.RightsizeInstance(ctx, args[0])
			if err != nil {
				return err
			}

			if plan.RecommendedType == plan.CurrentType {
				fmt.Printf("Instance %s stays on %s (avg CPU: %.1f%%)\n",
					plan.InstanceID, plan.CurrentType, plan.AvgCPU)
				return nil
			}
			verb := "[DRY RUN] Would resize"
			if plan.Applied {
				verb = "Resized"
			}
			fmt.Printf("%s %s: %s -> %s (avg CPU: %.1f%%)\n",
				verb, plan.InstanceID, plan.CurrentType, plan.RecommendedType, plan.AvgCPU)
			return nil
		},
	}
	rightsizeCmd.Flags().Bool("dry-run", true, "Plan the resize without applying it")
	cmd.AddCommand(rightsizeCmd)

	return cmd
}

func printReport(report *finops.Report) {
	fmt.Println(strings.Repeat("=", 70))
	fmt.Println("FinOps Cost Optimization Report")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Generated: %s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Printf("Total Recommendations: %d\n", report.TotalRecommendations)
	fmt.Printf("High Priority: %d\n", report.HighPriorityCount)
	fmt.Printf("Total Potential Savings: $%.2f/month\n", report.TotalPotentialSavings)
	fmt.Println(strings.Repeat("=", 70))

	for i, rec := range report.Recommendations {
		if i == 10 {
			break
		}
		fmt.Printf("%d. [%s] %s\n", i+1, strings.ToUpper(rec.Priority), rec.Action)
		fmt.Printf("   Potential Savings: $%.2f/month (current cost $%.2f/month)\n",
			rec.PotentialSavings, rec.CurrentCost)
	}
}

func deployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deployment operations",
	}

	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap an ALB listener between its blue and green target groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			listenerARN, _ := cmd.Flags().GetString("listener-arn")
			idleARN, _ := cmd.Flags().GetString("target-group")
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			logger := newLogger()

			if listenerARN == "" {
				return fmt.Errorf("--listener-arn is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			clients, err := awsclient.New(ctx, cfg.AWSRegion)
			if err != nil {
				return err
			}

			swapper := deploy.NewSwapper(clients.ELBv2, dryRun, logger)
			plan, err := swapper.Swap(ctx, listenerARN, idleARN)
			if err != nil {
				return err
			}

			verb := "[DRY RUN] Would swap"
			if plan.Swapped {
				verb = "Swapped"
			}
			fmt.Printf("%s listener default action\n  live: %s\n  idle: %s (%d healthy targets)\n",
				verb, plan.LiveTargetGroup, plan.IdleTargetGroup, plan.HealthyTargets)
			return nil
		},
	}
	swapCmd.Flags().String("listener-arn", "", "Listener ARN")
	swapCmd.Flags().String("target-group", "", "Idle target group ARN (discovered from listener rules when omitted)")
	swapCmd.Flags().Bool("dry-run", true, "Plan the swap without applying it")
	cmd.AddCommand(swapCmd)

	return cmd
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// AWS clients are optional for the API server: without them detection
	// falls back to patterns and CloudWatch publishing is disabled.
	clients, err := awsclient.New(ctx, cfg.AWSRegion)
	if err != nil {
		logger.Warn().Err(err).Msg("AWS clients unavailable, using offline fallbacks")
		clients = nil
	}

	var detector phi.Detector = phi.NewPatternDetector()
	if clients != nil && !cfg.IsDev() {
		detector = phi.NewComprehendDetector(clients.ComprehendMedical)
	}

	var cwMetrics *telemetry.CloudWatchPublisher
	if clients != nil {
		cwMetrics = telemetry.NewCloudWatchPublisher(clients.CloudWatch, cfg.MetricsNamespace, logger)
	}

	var publisher events.Publisher = events.NoopPublisher{}
	var kafkaPub *events.KafkaPublisher
	if len(cfg.KafkaBrokers) > 0 {
		topic := cfg.EventTopic
		if topic == "" {
			topic = "careguard-events"
		}
		kafkaPub = events.NewKafkaPublisher(cfg.KafkaBrokers, topic, logger)
		publisher = kafkaPub
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", topic).Msg("kafka publisher enabled")
	}

	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{
		ServiceName:    "careguard",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Env,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("2M", "20M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(tp.TracingMiddleware())
	e.Use(tp.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
	}))

	keyManager := auth.NewAPIKeyManager(auth.NewInMemoryAPIKeyStore())
	for i, rawKey := range cfg.APIKeys {
		if _, err := keyManager.SeedStaticKey(ctx, fmt.Sprintf("static-%d", i), rawKey); err != nil {
			logger.Fatal().Err(err).Msg("seeding API key")
		}
	}

	switch cfg.ResolvedAuthMode() {
	case "development":
		e.Use(auth.DevAuthMiddleware())
	case "jwt":
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	default:
		e.Use(auth.APIKeyMiddleware(keyManager))
	}

	// Domain services
	auditSvc := audit.NewService(audit.NewRepo(pool), logger)
	patientSvc := patient.NewService(patient.NewRepo(pool), detector, auditSvc, tp, logger)
	labSvc := labresult.NewService(labresult.NewRepo(pool), auditSvc)
	billingSvc := billing.NewService(billing.NewRepo(pool), auditSvc)
	taskSvc := task.NewService(task.NewRepo(pool), publisher, cwMetrics, logger)

	// Sweep tasks past their retention window for as long as the server runs.
	purgeCtx, stopPurge := context.WithCancel(ctx)
	defer stopPurge()
	go taskSvc.StartPurgeLoop(purgeCtx, time.Hour)

	registry := workflow.NewRegistry()
	workflow.RegisterBuiltinSteps(registry, detector)
	workflowSvc := workflow.NewService(workflow.NewRepo(pool), registry, logger)

	complianceRepo := compliance.NewRepo(pool)
	gate := compliance.Gate{
		Critical: cfg.AutoRemediateCritical,
		High:     cfg.AutoRemediateHigh,
		Medium:   cfg.AutoRemediateMedium,
	}
	var engine *compliance.Engine
	if clients != nil {
		engine = compliance.NewEngine(complianceRepo, clients.S3, clients.EC2, clients.IAM,
			clients.SNS, auditSvc, gate, cfg.SNSTopicARN, logger)
	} else {
		engine = compliance.NewEngine(complianceRepo, nil, nil, nil, nil, auditSvc, gate, "", logger)
	}

	// Every mutating request lands in the audit trail.
	e.Use(middleware.Audit(logger, audit.APIRecorder(auditSvc)))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	labresult.NewHandler(labSvc).RegisterRoutes(apiV1)
	billing.NewHandler(billingSvc).RegisterRoutes(apiV1)
	task.NewHandler(taskSvc).RegisterRoutes(apiV1)
	workflow.NewHandler(workflowSvc).RegisterRoutes(apiV1)
	audit.NewHandler(auditSvc).RegisterRoutes(apiV1)
	compliance.NewHandler(engine, complianceRepo).RegisterRoutes(apiV1)

	apiKeys := apiV1.Group("/admin/api-keys", auth.RequireRole("admin"))
	auth.NewAPIKeyHandler(keyManager).RegisterRoutes(apiKeys)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tp.PrometheusHandler())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if kafkaPub != nil {
		if err := kafkaPub.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing kafka publisher")
		}
	}
	_ = tp.Shutdown(context.Background())
	logger.Info().Msg("server stopped")
	return nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/cimcon/p2p/cmd/p2p/cli"
	"github.com/cimcon/p2p/internal/app"
	"github.com/cimcon/p2p/internal/codes"
	"github.com/cimcon/p2p/internal/document"
	"github.com/cimcon/p2p/internal/inventory"
	"github.com/cimcon/p2p/internal/master"
	"github.com/cimcon/p2p/internal/masterdata"
	"github.com/cimcon/p2p/internal/observability"
	"github.com/cimcon/p2p/internal/platform/cache"
	"github.com/cimcon/p2p/internal/platform/db"
	"github.com/cimcon/p2p/internal/platform/httpx"
	"github.com/cimcon/p2p/internal/procurement"
	"github.com/cimcon/p2p/internal/requisition"
	"github.com/cimcon/p2p/internal/shared"
	"github.com/cimcon/p2p/jobs"
	"github.com/cimcon/p2p/migrations"
)

const usage = `usage: p2p [command]

commands:
  serve                 run the HTTP API (default)
  migrate               apply pending schema migrations
  reconcile [-json]     report stock drift without correcting it
  jobs trigger <name>   enqueue a background job (reconcile, cleanup)
  jobs stats            print queue counters
`

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "reconcile":
		os.Exit(reconcile(ctx, cfg, logger, args))
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	sessions := shared.NewSessionStore(redisClient, cfg.SessionPrefix, cfg.SessionTTL)

	masterdataService := masterdata.NewService(masterdata.NewRepository(pool), httpx.Validator(), cfg.AdminRole)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger, metrics, logger)
	masterService := master.NewService(master.NewRepository(pool), inventoryService, masterdataService, logger, cfg.AdminRole)
	requisitionService := requisition.NewService(requisition.NewRepository(pool), masterdataService, masterService, auditLogger, logger, cfg.AdminRole)

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	codeTables := codes.Default()
	procurementService := procurement.NewService(procurement.NewRepository(pool), procurement.Dependencies{
		Masters:     masterService,
		Inventory:   inventoryService,
		Projects:    masterdataService,
		Vendors:     masterdataService,
		HSN:         codeTables,
		Idempotency: idempotencyStore,
		Preview:     cache.NewTTLCache(redisClient, "p2p:po-preview:", 30*time.Second),
		Notifier:    jobs.NewDecisionMailer(queue, cfg.MailFrom, logger),
		Metrics:     metrics,
		Audit:       auditLogger,
		Logger:      logger,
		AdminRole:   cfg.AdminRole,
	})

	checks := map[string]app.Pinger{
		"postgres": pool,
		"redis":    pingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
	}
	gotenberg := document.NewClient(cfg.GotenbergURL, cfg.PDFTimeout)
	if gotenberg != nil {
		checks["gotenberg"] = gotenberg
	} else {
		logger.Warn("GOTENBERG_URL not set, outward documents are served as HTML and PO PDFs are unavailable")
	}
	documents, err := document.NewService(gotenberg.Renderer(), document.NewStore(cfg.MediaRoot), document.Config{
		LogoPath:  cfg.POLogoPath,
		TermsPath: cfg.POTermsPath,
		Timeout:   cfg.PDFTimeout,
	}, metrics, logger)
	if err != nil {
		return err
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Callers:            sessions,
		Metrics:            metrics,
		RequisitionHandler: requisition.NewHandler(logger, requisitionService),
		MasterHandler:      master.NewHandler(logger, masterService),
		MasterDataHandler:  masterdata.NewHandler(logger, masterdataService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, documents),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, documents),
		CodesHandler:       codes.NewHandler(logger, codeTables),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Checks:             checks,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return db.Migrate(ctx, pool, migrations.Files, logger)
}

func reconcile(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	inv := inventory.NewService(inventory.NewRepository(pool), nil, nil, logger)
	return cli.ReconcileCommand(ctx, inv, cli.ReconcileOptions{JSONOutput: *jsonOut})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	helper, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer helper.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: job name required")
		}
		info, err := helper.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := helper.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, q := range stats {
			fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				q.Queue, q.Pending, q.Active, q.Scheduled, q.Retry, q.Archived)
		}
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
	return nil
}

// Package server wires the gateway together: configuration, database,
// migrations, the HTTP gateway, the gRPC token service and the background
// janitor. It also handles graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/audit"
	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authgate/internal/server/services"
	"github.com/dmitrijs2005/authgate/internal/server/session"

	gs "github.com/dmitrijs2005/authgate/internal/server/grpc"
	hs "github.com/dmitrijs2005/authgate/internal/server/http"
)

// guardAuditQueue is how many guard redirect events may wait for the writer.
const guardAuditQueue = 1024

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	authService *services.AuthService
	httpServer  *hs.Server
	grpcServer  *gs.GRPCServer
	janitor     *Janitor
	auditQueue  *audit.AsyncRecorder
}

// NewApp validates c, connects to the database, applies migrations and
// builds both servers. Any failure here is fatal for the process.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	tokens, err := auth.NewTokenService(c.SecretKey, c.AccessTokenValidityDuration)
	if err != nil {
		return nil, err
	}

	db, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	recorder := audit.NewRecorder(db, rm, logger)
	as := services.NewAuthService(db, rm, tokens, c, recorder, logger)
	auditQueue := audit.NewAsyncRecorder(recorder, guardAuditQueue, logger)

	httpServer, err := hs.NewServer(c, hs.Deps{
		Auth:     as,
		Tokens:   tokens,
		Cookies:  session.NewManager(c),
		Recorder: auditQueue,
		DB:       db,
		Logger:   logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("http init error: %w", err)
	}

	var archiver ArchiveRunner
	if c.S3Enabled() {
		up, err := audit.NewS3Uploader(ctx, c)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		archiver = audit.NewArchiver(db, rm, up, c.S3Bucket, c.AuditRetention, logger)
	}

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		authService: as,
		httpServer:  httpServer,
		grpcServer:  gs.NewGRPCServer(c.EndpointAddrGRPC, logger, tokens, as),
		janitor:     NewJanitor(c.SweepInterval, as, archiver, logger),
		auditQueue:  auditQueue,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runComponent runs f and cancels the whole app if it fails.
func (app *App) runComponent(ctx context.Context, cancelFunc context.CancelFunc, name string, f func(context.Context) error) {
	if err := f(ctx); err != nil {
		app.logger.Error(ctx, "component failed", "component", name, "error", err)
		cancelFunc()
	}
}

// Run blocks until a signal arrives or a server fails, then waits for every
// component to stop and closes the database.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(4)
	go func() {
		defer wg.Done()
		app.runComponent(ctx, cancelFunc, "http", app.httpServer.Run)
	}()
	go func() {
		defer wg.Done()
		app.runComponent(ctx, cancelFunc, "grpc", app.grpcServer.Run)
	}()
	go func() {
		defer wg.Done()
		app.janitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		app.auditQueue.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}

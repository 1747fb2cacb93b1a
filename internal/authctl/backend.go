package authctl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/audit"
	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/authgate/internal/server/services"
)

var errArchiveDisabled = errors.New("S3 is not configured (set S3_BUCKET)")

// operator is recorded as the user agent of CLI-initiated audit events.
var operator = models.ClientInfo{UserAgent: "authctl"}

// Backend is what the database-backed commands need.
type Backend interface {
	Migrate(ctx context.Context) error
	CreateUser(ctx context.Context, in services.RegisterInput, role models.Role) (*models.User, error)
	SetRole(ctx context.Context, userID string, role models.Role) error
	RevokeAllSessions(ctx context.Context, userID string) (int64, error)
	SweepExpiredSessions(ctx context.Context) (int64, error)
	ArchiveAudit(ctx context.Context) (int, error)
	Close() error
}

type dbBackend struct {
	db       *sql.DB
	rm       repomanager.RepositoryManager
	auth     *services.AuthService
	archiver *audit.Archiver
}

// openDB connects to the database described by c. Migrations are not run
// here; that is the migrate command's job.
func openDB(ctx context.Context, c *config.Config, l logging.Logger) (Backend, error) {
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
	b := &dbBackend{
		db:   db,
		rm:   rm,
		auth: services.NewAuthService(db, rm, tokens, c, audit.NewRecorder(db, rm, l), l),
	}

	if c.S3Enabled() {
		up, err := audit.NewS3Uploader(ctx, c)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		b.archiver = audit.NewArchiver(db, rm, up, c.S3Bucket, c.AuditRetention, l)
	}

	return b, nil
}

func (b *dbBackend) Migrate(ctx context.Context) error {
	return b.rm.RunMigrations(ctx, b.db)
}

func (b *dbBackend) CreateUser(ctx context.Context, in services.RegisterInput, role models.Role) (*models.User, error) {
	return b.auth.CreateUser(ctx, in, role, operator)
}

func (b *dbBackend) SetRole(ctx context.Context, userID string, role models.Role) error {
	return b.auth.SetRole(ctx, userID, role)
}

func (b *dbBackend) RevokeAllSessions(ctx context.Context, userID string) (int64, error) {
	return b.auth.RevokeAllSessions(ctx, userID, operator)
}

func (b *dbBackend) SweepExpiredSessions(ctx context.Context) (int64, error) {
	return b.auth.SweepExpiredSessions(ctx)
}

func (b *dbBackend) ArchiveAudit(ctx context.Context) (int, error) {
	if b.archiver == nil {
		return 0, errArchiveDisabled
	}
	return b.archiver.ArchiveOnce(ctx)
}

func (b *dbBackend) Close() error {
	return b.db.Close()
}

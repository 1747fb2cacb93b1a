package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/dbx"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/audit"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/users"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// --- in-memory repositories ---

// castUUID fails like Postgres does when a non-UUID is compared with a UUID
// column (SQLSTATE 22P02).
func castUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("db error: invalid input syntax for type uuid: %q", id)
	}
	return nil
}

type memUsers struct {
	mu   sync.Mutex
	byID map[string]*models.User
	err  error
}

func (m *memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, x := range m.byID {
		if x.Email == u.Email {
			return nil, fmt.Errorf("%w: %w", common.ErrorAlreadyExists, common.ErrEmailTaken)
		}
		if x.Username == u.Username {
			return nil, fmt.Errorf("%w: %w", common.ErrorAlreadyExists, common.ErrUsernameTaken)
		}
	}
	cp := *u
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.byID[u.ID] = &cp
	return &cp, nil
}

func (m *memUsers) find(match func(*models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, u := range m.byID {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id })
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Email == email })
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.Username == username })
}

func (m *memUsers) UpdateRole(_ context.Context, id string, role models.Role) error {
	if err := castUUID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.Role = role
	return nil
}

type memSessions struct {
	mu      sync.Mutex
	byID    map[string]*models.RefreshToken
	touched int
}

func (m *memSessions) Create(_ context.Context, t *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	cp.LastUsedAt = cp.CreatedAt
	m.byID[t.ID] = &cp
	return nil
}

func (m *memSessions) Consume(_ context.Context, hash string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.byID {
		if t.TokenHash == hash {
			delete(m.byID, id)
			return t, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (m *memSessions) FindByID(_ context.Context, id string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memSessions) ListByUser(_ context.Context, userID string) ([]models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.RefreshToken{}
	for _, t := range m.byID {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

func (m *memSessions) DeleteByHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.byID {
		if t.TokenHash == hash {
			delete(m.byID, id)
		}
	}
	return nil
}

func (m *memSessions) DeleteForUser(_ context.Context, userID, id string) (bool, error) {
	if err := castUUID(id); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok || t.UserID != userID {
		return false, nil
	}
	delete(m.byID, id)
	return true, nil
}

func (m *memSessions) DeleteAllForUser(_ context.Context, userID string) (int64, error) {
	if err := castUUID(userID); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.byID {
		if t.UserID == userID {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.byID {
		if t.Expired(now) {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

func (m *memSessions) Touch(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byID[id]; ok {
		t.LastUsedAt = at
		m.touched++
	}
	return nil
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// blindUsers never finds anyone, simulating a concurrent insert that
// happens between the existence check and Create.
type blindUsers struct {
	*memUsers
}

func (b *blindUsers) GetByEmail(context.Context, string) (*models.User, error) {
	return nil, common.ErrorNotFound
}

func (b *blindUsers) GetByUsername(context.Context, string) (*models.User, error) {
	return nil, common.ErrorNotFound
}

type fakeManager struct {
	users    users.Repository
	sessions *memSessions
}

func (f *fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f *fakeManager) Users(dbx.DBTX) users.Repository { return f.users }
func (f *fakeManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return f.sessions }
func (f *fakeManager) Audit(dbx.DBTX) audit.Repository { return nil }

type fakeRecorder struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (f *fakeRecorder) Record(_ context.Context, e models.AuditEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeRecorder) actions() []models.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AuditAction, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Action)
	}
	return out
}

// --- fixture ---

type fixture struct {
	svc      *AuthService
	mock     sqlmock.Sqlmock
	users    *memUsers
	sessions *memSessions
	rec      *fakeRecorder
	tokens   *auth.TokenService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := &config.Config{
		SecretKey:                    "test-secret",
		AdminEmail:                   "Admin@Example.com",
		AccessTokenValidityDuration:  15 * time.Minute,
		RefreshTokenValidityDuration: 7 * 24 * time.Hour,
	}
	tokens, err := auth.NewTokenService(cfg.SecretKey, cfg.AccessTokenValidityDuration)
	require.NoError(t, err)

	f := &fixture{
		mock:     mock,
		users:    &memUsers{byID: map[string]*models.User{}},
		sessions: &memSessions{byID: map[string]*models.RefreshToken{}},
		rec:      &fakeRecorder{},
		tokens:   tokens,
	}
	f.svc = NewAuthService(db, &fakeManager{users: f.users, sessions: f.sessions}, tokens, cfg, f.rec, logging.Discard())
	return f
}

func (f *fixture) expectTx(commit bool) {
	f.mock.ExpectBegin()
	if commit {
		f.mock.ExpectCommit()
	} else {
		f.mock.ExpectRollback()
	}
}

var client = models.ClientInfo{IPAddress: "10.0.0.1", UserAgent: "test-agent"}

const goodPassword = "TestPassword123!"

// register is a shortcut that creates a user and returns its first session.
func (f *fixture) register(t *testing.T, email, username string) *AuthResult {
	t.Helper()
	f.expectTx(true)
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Username: username,
		Password: goodPassword,
	}, client)
	require.NoError(t, err)
	return res
}

// Package services contains server-side business logic. AuthService owns
// registration, login, refresh-token rotation, logout and the DB-backed
// current-user check; every transport goes through it.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/cryptox"
	"github.com/dmitrijs2005/authgate/internal/dbx"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/auth"
	"github.com/dmitrijs2005/authgate/internal/server/config"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/repositories/repomanager"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// touchInterval throttles last_used_at updates on authenticated requests.
const touchInterval = 5 * time.Minute

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// AuthResult is returned by every operation that opens a session.
type AuthResult struct {
	User      *models.User
	Tokens    *TokenPair
	SessionID string
}

// Identity is a fully verified caller: valid token, live session, existing user.
type Identity struct {
	User    *models.User
	Claims  *auth.Claims
	Session *models.RefreshToken
}

// AuditRecorder stores activity events. Implementations must not fail the
// caller; recording is best effort.
type AuditRecorder interface {
	Record(ctx context.Context, e models.AuditEvent)
}

type AuthService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	tokens         *auth.TokenService
	validate       *validator.Validate
	audit          AuditRecorder
	logger         logging.Logger
	refreshHashKey []byte
	refreshTTL     time.Duration
	adminEmail     string
	now            func() time.Time
}

// NewAuthService wires the service from its collaborators and config.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, tokens *auth.TokenService, cfg *config.Config, rec AuditRecorder, l logging.Logger) *AuthService {
	return &AuthService{
		db:             db,
		repomanager:    m,
		tokens:         tokens,
		validate:       newValidator(),
		audit:          rec,
		logger:         l.With("module", "auth_service"),
		refreshHashKey: cfg.RefreshHashKey(),
		refreshTTL:     cfg.RefreshTokenValidityDuration,
		adminEmail:     normalizeEmail(cfg.AdminEmail),
		now:            time.Now,
	}
}

// Register creates a user and opens its first session. The email is checked
// before the username, so a request colliding on both reports the email.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, client models.ClientInfo) (*AuthResult, error) {
	user, err := s.prepareUser(ctx, in)
	if err != nil {
		return nil, err
	}
	user.Role = s.roleFor(user.Email)

	var result *AuthResult
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		created, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		result, err = s.issueSession(ctx, tx, created, client)
		return err
	})
	if err != nil {
		if conflict := conflictError(err); conflict != nil {
			return nil, conflict
		}
		return nil, s.internal(ctx, "registration failed", err)
	}

	s.record(ctx, models.ActionRegister, user.ID, client, "role="+string(user.Role))
	s.logger.Info(ctx, "user registered", "user_id", user.ID, "role", user.Role)

	return result, nil
}

// CreateUser inserts a user with the given role and no session. Used by the
// operator CLI; the same validation as Register applies.
func (s *AuthService) CreateUser(ctx context.Context, in RegisterInput, role models.Role, client models.ClientInfo) (*models.User, error) {
	if role != models.RoleUser && role != models.RoleAdmin {
		return nil, &ValidationError{Field: "Role", Message: "Unknown role"}
	}

	user, err := s.prepareUser(ctx, in)
	if err != nil {
		return nil, err
	}
	user.Role = role

	created, err := s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		if conflict := conflictError(err); conflict != nil {
			return nil, conflict
		}
		return nil, s.internal(ctx, "user creation failed", err)
	}

	s.record(ctx, models.ActionRegister, created.ID, client, "role="+string(created.Role))
	s.logger.Info(ctx, "user created", "user_id", created.ID, "role", created.Role)

	return created, nil
}

// prepareUser validates in, checks uniqueness and hashes the password. The
// returned user has no role yet.
func (s *AuthService) prepareUser(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	if err := s.validateStruct(in); err != nil {
		return nil, err
	}

	users := s.repomanager.Users(s.db)

	if _, err := users.GetByEmail(ctx, in.Email); err == nil {
		return nil, common.ErrEmailTaken
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, s.internal(ctx, "email lookup failed", err)
	}

	if in.Username != "" {
		if _, err := users.GetByUsername(ctx, in.Username); err == nil {
			return nil, common.ErrUsernameTaken
		} else if !errors.Is(err, common.ErrorNotFound) {
			return nil, s.internal(ctx, "username lookup failed", err)
		}
	} else {
		name, err := s.deriveUsername(ctx, in.Email)
		if err != nil {
			return nil, s.internal(ctx, "username derivation failed", err)
		}
		in.Username = name
	}

	hash, err := cryptox.HashPassword(in.Password)
	if err != nil {
		return nil, s.internal(ctx, "password hashing failed", err)
	}

	return &models.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Username:     in.Username,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	}, nil
}

// conflictError maps a unique violation from a concurrent insert back to the
// user-facing sentinel, or returns nil.
func conflictError(err error) error {
	switch {
	case errors.Is(err, common.ErrEmailTaken):
		return common.ErrEmailTaken
	case errors.Is(err, common.ErrUsernameTaken):
		return common.ErrUsernameTaken
	}
	return nil
}

// Login verifies credentials and opens a new session. Unknown identifiers and
// wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, in LoginInput, client models.ClientInfo) (*AuthResult, error) {
	in.Identifier = strings.TrimSpace(in.Identifier)
	if err := s.validateStruct(in); err != nil {
		return nil, err
	}

	users := s.repomanager.Users(s.db)

	var (
		user *models.User
		err  error
	)
	if strings.Contains(in.Identifier, "@") {
		user, err = users.GetByEmail(ctx, normalizeEmail(in.Identifier))
	} else {
		user, err = users.GetByUsername(ctx, in.Identifier)
	}
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			cryptox.BurnPasswordCheck(in.Password)
			s.record(ctx, models.ActionLoginFailure, "", client, "unknown identifier")
			return nil, common.ErrInvalidCredentials
		}
		return nil, s.internal(ctx, "user lookup failed", err)
	}

	if !cryptox.CheckPassword(user.PasswordHash, in.Password) {
		s.record(ctx, models.ActionLoginFailure, user.ID, client, "wrong password")
		return nil, common.ErrInvalidCredentials
	}

	result, err := s.issueSession(ctx, s.db, user, client)
	if err != nil {
		return nil, s.internal(ctx, "session creation failed", err)
	}

	s.record(ctx, models.ActionLogin, user.ID, client, "")
	return result, nil
}

// Refresh rotates a refresh token. The presented token is consumed with an
// atomic compare-and-delete, so it can succeed at most once. An expired
// token stays deleted.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, client models.ClientInfo) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, common.ErrInvalidRefreshToken
	}
	hash := cryptox.HashToken(s.refreshHashKey, refreshToken)

	var (
		result  *AuthResult
		expired *models.RefreshToken
	)
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		old, err := s.repomanager.RefreshTokens(tx).Consume(ctx, hash)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidRefreshToken
			}
			return fmt.Errorf("error consuming refresh token: %w", err)
		}

		if old.Expired(s.now()) {
			expired = old
			return nil
		}

		user, err := s.repomanager.Users(tx).GetByID(ctx, old.UserID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidRefreshToken
			}
			return fmt.Errorf("error loading user: %w", err)
		}

		result, err = s.issueSession(ctx, tx, user, client)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidRefreshToken) {
			s.record(ctx, models.ActionRefreshFailure, "", client, "invalid refresh token")
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, s.internal(ctx, "refresh failed", err)
	}

	if expired != nil {
		s.record(ctx, models.ActionRefreshFailure, expired.UserID, client, "refresh token expired")
		return nil, common.ErrRefreshTokenExpired
	}

	s.record(ctx, models.ActionRefresh, result.User.ID, client, "")
	return result, nil
}

// Logout removes whatever session the presented tokens identify. Both tokens
// are optional and may be invalid; the returned error is for logging only.
func (s *AuthService) Logout(ctx context.Context, refreshToken, accessToken string, client models.ClientInfo) error {
	repo := s.repomanager.RefreshTokens(s.db)
	var errs []error

	if refreshToken != "" {
		if err := repo.DeleteByHash(ctx, cryptox.HashToken(s.refreshHashKey, refreshToken)); err != nil {
			errs = append(errs, err)
		}
	}

	var userID string
	if accessToken != "" {
		if claims, err := s.tokens.Decode(accessToken); err == nil {
			userID = claims.UserID()
			if claims.SessionID != "" {
				if err := repo.Delete(ctx, claims.SessionID); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	s.record(ctx, models.ActionLogout, userID, client, "")
	return errors.Join(errs...)
}

// Authenticate is the DB-backed current-user check. Any token error, a
// missing or expired session, or a deleted user yields an error; callers
// treat all of them as "not authenticated".
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := s.tokens.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, common.ErrorUnauthorized
	}

	sessions := s.repomanager.RefreshTokens(s.db)
	session, err := sessions.FindByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, s.internal(ctx, "session lookup failed", err)
	}
	if session.UserID != claims.UserID() {
		return nil, common.ErrorUnauthorized
	}

	now := s.now()
	if session.Expired(now) {
		if err := sessions.Delete(ctx, session.ID); err != nil {
			s.logger.Warn(ctx, "expired session cleanup failed", "session_id", session.ID, "error", err)
		}
		return nil, common.ErrorUnauthorized
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			if err := sessions.Delete(ctx, session.ID); err != nil {
				s.logger.Warn(ctx, "orphaned session cleanup failed", "session_id", session.ID, "error", err)
			}
			return nil, common.ErrorUnauthorized
		}
		return nil, s.internal(ctx, "user lookup failed", err)
	}

	if now.Sub(session.LastUsedAt) > touchInterval {
		if err := sessions.Touch(ctx, session.ID, now); err != nil {
			s.logger.Warn(ctx, "session touch failed", "session_id", session.ID, "error", err)
		} else {
			session.LastUsedAt = now
		}
	}

	return &Identity{User: user, Claims: claims, Session: session}, nil
}

// ListSessions returns the user's sessions, most recently used first.
func (s *AuthService) ListSessions(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	list, err := s.repomanager.RefreshTokens(s.db).ListByUser(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "session listing failed", err)
	}
	return list, nil
}

// RevokeSession deletes one of userID's sessions. A session owned by someone
// else is reported as common.ErrorNotFound.
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID string, client models.ClientInfo) error {
	if !validID(sessionID) {
		return common.ErrorNotFound
	}
	ok, err := s.repomanager.RefreshTokens(s.db).DeleteForUser(ctx, userID, sessionID)
	if err != nil {
		return s.internal(ctx, "session revoke failed", err)
	}
	if !ok {
		return common.ErrorNotFound
	}
	s.record(ctx, models.ActionSessionRevoked, userID, client, "session="+sessionID)
	return nil
}

// RevokeAllSessions deletes every session of userID. A malformed id is
// reported as common.ErrorNotFound.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string, client models.ClientInfo) (int64, error) {
	if !validID(userID) {
		return 0, common.ErrorNotFound
	}
	n, err := s.repomanager.RefreshTokens(s.db).DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, s.internal(ctx, "session revoke failed", err)
	}
	s.record(ctx, models.ActionSessionRevoked, userID, client, fmt.Sprintf("all sessions (%d)", n))
	return n, nil
}

// SweepExpiredSessions deletes every expired session row.
func (s *AuthService) SweepExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	return n, nil
}

// RequireAdmin re-reads userID's role from the database.
func (s *AuthService) RequireAdmin(ctx context.Context, userID string) (*models.User, error) {
	if !validID(userID) {
		return nil, common.ErrorUnauthorized
	}
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, s.internal(ctx, "user lookup failed", err)
	}
	if !user.IsAdmin() {
		return nil, common.ErrorForbidden
	}
	return user, nil
}

// SetRole changes a user's role. Used by the operator CLI.
func (s *AuthService) SetRole(ctx context.Context, userID string, role models.Role) error {
	if role != models.RoleUser && role != models.RoleAdmin {
		return &ValidationError{Field: "Role", Message: "Unknown role"}
	}
	if !validID(userID) {
		return common.ErrorNotFound
	}
	err := s.repomanager.Users(s.db).UpdateRole(ctx, userID, role)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return s.internal(ctx, "role update failed", err)
	}
	return err
}

// --- helpers below ---

func (s *AuthService) issueSession(ctx context.Context, db dbx.DBTX, user *models.User, client models.ClientInfo) (*AuthResult, error) {
	refresh, err := cryptox.NewRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("error generating refresh token: %w", err)
	}

	now := s.now()
	session := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: cryptox.HashToken(s.refreshHashKey, refresh),
		ExpiresAt: now.Add(s.refreshTTL),
		UserAgent: truncate(client.UserAgent, 512),
		IPAddress: truncate(client.IPAddress, 64),
		CreatedAt: now,
	}
	if err := s.repomanager.RefreshTokens(db).Create(ctx, session); err != nil {
		return nil, err
	}

	access, err := s.tokens.Create(auth.Payload{
		UserID:    user.ID,
		Email:     user.Email,
		Username:  user.Username,
		Role:      string(user.Role),
		SessionID: session.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("error signing access token: %w", err)
	}

	return &AuthResult{
		User:      user,
		Tokens:    &TokenPair{AccessToken: access, RefreshToken: refresh},
		SessionID: session.ID,
	}, nil
}

func (s *AuthService) roleFor(email string) models.Role {
	if s.adminEmail != "" && email == s.adminEmail {
		return models.RoleAdmin
	}
	return models.RoleUser
}

var nonUsernameChars = regexp.MustCompile(`[^a-z0-9_.-]+`)

// deriveUsername builds "<local-part>_<6 hex>" and retries on collision.
func (s *AuthService) deriveUsername(ctx context.Context, email string) (string, error) {
	local, _, _ := strings.Cut(email, "@")
	base := nonUsernameChars.ReplaceAllString(strings.ToLower(local), "")
	if len(base) < 3 {
		base = "user"
	}
	if len(base) > 24 {
		base = base[:24]
	}

	users := s.repomanager.Users(s.db)
	for range 5 {
		suffix, err := common.MakeRandHexString(3)
		if err != nil {
			return "", err
		}
		candidate := base + "_" + suffix
		_, err = users.GetByUsername(ctx, candidate)
		if errors.Is(err, common.ErrorNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("no free username")
}

func (s *AuthService) record(ctx context.Context, action models.AuditAction, userID string, client models.ClientInfo, details string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, models.AuditEvent{
		UserID:    userID,
		Action:    action,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Details:   details,
	})
}

// internal logs err and returns common.ErrorInternal wrapped with msg.
func (s *AuthService) internal(ctx context.Context, msg string, err error) error {
	s.logger.Error(ctx, msg, "error", err)
	return fmt.Errorf("%s: %w", msg, common.ErrorInternal)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// validID reports whether id can be compared against a UUID column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

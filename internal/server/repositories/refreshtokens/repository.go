// Package refreshtokens declares the server-side repository contract for
// refresh-token sessions and its PostgreSQL implementation.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authgate/internal/server/models"
)

// Repository stores sessions keyed by the hash of their refresh token.
type Repository interface {
	// Create stores t. The caller supplies the id so it can be embedded in
	// the access token before the transaction commits.
	Create(ctx context.Context, t *models.RefreshToken) error

	// Consume atomically deletes the session with the given token hash and
	// returns it. Of two concurrent calls with the same hash exactly one
	// receives the row; the other gets common.ErrorNotFound.
	Consume(ctx context.Context, tokenHash string) (*models.RefreshToken, error)

	// FindByID returns common.ErrorNotFound when absent.
	FindByID(ctx context.Context, id string) (*models.RefreshToken, error)

	ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error)

	// Delete removes a session by id. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteByHash removes a session by token hash. Missing is not an error.
	DeleteByHash(ctx context.Context, tokenHash string) error

	// DeleteForUser removes session id only if it belongs to userID and
	// reports whether a row was deleted.
	DeleteForUser(ctx context.Context, userID, id string) (bool, error)

	DeleteAllForUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes sessions with expires_at at or before now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Touch records activity on a session.
	Touch(ctx context.Context, id string, at time.Time) error
}

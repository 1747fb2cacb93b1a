package authctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/authgate/internal/common"
	"github.com/dmitrijs2005/authgate/internal/flagx"
	"github.com/dmitrijs2005/authgate/internal/server/models"
	"github.com/dmitrijs2005/authgate/internal/server/services"
)

// newFlagSet returns a flag set that reports errors instead of exiting.
func (a *App) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// parseOwn parses only the flags fs defines; global config flags that were
// placed after the command are left to the config layer.
func parseOwn(fs *flag.FlagSet, args []string) error {
	var own []string
	fs.VisitAll(func(f *flag.Flag) {
		own = append(own, "-"+f.Name, "--"+f.Name)
	})
	return fs.Parse(flagx.FilterArgs(args, own))
}

func (a *App) migrate(ctx context.Context, b Backend) error {
	if err := b.Migrate(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, "migrations applied")
	return nil
}

func (a *App) createUser(ctx context.Context, args []string) error {
	fs := a.newFlagSet("create-user")
	email := fs.String("email", "", "user email (required)")
	username := fs.String("username", "", "username; derived from the email when empty")
	role := fs.String("role", string(models.RoleUser), "user or admin")
	firstName := fs.String("first-name", "", "first name")
	lastName := fs.String("last-name", "", "last name")
	fromStdin := fs.Bool("password-stdin", false, "read the password from stdin")
	if err := parseOwn(fs, args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}

	password, err := a.password(*fromStdin)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	in := services.RegisterInput{
		Email:     *email,
		Username:  *username,
		Password:  string(password),
		FirstName: *firstName,
		LastName:  *lastName,
	}

	return a.withBackend(ctx, func(b Backend) error {
		u, err := b.CreateUser(ctx, in, models.Role(strings.ToLower(*role)))
		if err != nil {
			var verr *services.ValidationError
			if errors.As(err, &verr) {
				return fmt.Errorf("%s: %s", strings.ToLower(verr.Field), verr.Message)
			}
			return err
		}
		fmt.Fprintf(a.stdout, "created user %s (%s, %s, role %s)\n", u.ID, u.Email, u.Username, u.Role)
		return nil
	})
}

// password reads from stdin when asked to, otherwise from the terminal
// without echo.
func (a *App) password(fromStdin bool) ([]byte, error) {
	if fromStdin {
		line, err := readLine(a.stdin)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		return []byte(line), nil
	}
	if !isTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("stdin is not a terminal; use -password-stdin")
	}
	return getNewPassword(a.stderr)
}

func (a *App) setRole(ctx context.Context, args []string) error {
	fs := a.newFlagSet("set-role")
	userID := fs.String("user", "", "user id (required)")
	role := fs.String("role", "", "user or admin (required)")
	if err := parseOwn(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*userID) == "" || *role == "" {
		return errors.New("-user and -role are required")
	}

	return a.withBackend(ctx, func(b Backend) error {
		err := b.SetRole(ctx, *userID, models.Role(strings.ToLower(*role)))
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return fmt.Errorf("user %s not found", *userID)
		case err != nil:
			return err
		}
		fmt.Fprintf(a.stdout, "user %s is now %s\n", *userID, strings.ToLower(*role))
		return nil
	})
}

func (a *App) revoke(ctx context.Context, args []string) error {
	fs := a.newFlagSet("revoke")
	userID := fs.String("user", "", "user id (required)")
	if err := parseOwn(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*userID) == "" {
		return errors.New("-user is required")
	}

	return a.withBackend(ctx, func(b Backend) error {
		n, err := b.RevokeAllSessions(ctx, *userID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			return fmt.Errorf("user %s not found", *userID)
		case err != nil:
			return err
		}
		fmt.Fprintf(a.stdout, "revoked %d session(s)\n", n)
		return nil
	})
}

func (a *App) sweep(ctx context.Context, b Backend) error {
	n, err := b.SweepExpiredSessions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "removed %d expired session(s)\n", n)
	return nil
}

func (a *App) archiveAudit(ctx context.Context, b Backend) error {
	n, err := b.ArchiveAudit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "archived %d audit event(s)\n", n)
	return nil
}

func (a *App) introspect(ctx context.Context, args []string) error {
	fs := a.newFlagSet("introspect")
	addr := fs.String("addr", grpcTarget(a.config.EndpointAddrGRPC), "gateway gRPC address")
	if err := parseOwn(fs, args); err != nil {
		return err
	}

	token, _ := flagx.SplitCommand(args)
	if token == "" {
		return errors.New("token is required")
	}

	c, err := a.dialIntrospector(*addr)
	if err != nil {
		return err
	}
	defer c.Close()

	info, err := c.Introspect(ctx, token)
	if err != nil {
		return err
	}

	if !info.Active {
		fmt.Fprintln(a.stdout, "active:   false")
		return nil
	}
	fmt.Fprintln(a.stdout, "active:   true")
	fmt.Fprintf(a.stdout, "user:     %s\n", info.UserID)
	fmt.Fprintf(a.stdout, "email:    %s\n", info.Email)
	fmt.Fprintf(a.stdout, "username: %s\n", info.Username)
	fmt.Fprintf(a.stdout, "role:     %s\n", info.Role)
	fmt.Fprintf(a.stdout, "session:  %s\n", info.SessionID)
	if !info.ExpiresAt.IsZero() {
		fmt.Fprintf(a.stdout, "expires:  %s\n", info.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

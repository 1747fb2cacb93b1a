// Package authctl implements the operator CLI: schema migrations, user
// creation, session revocation, housekeeping and token introspection.
package authctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/authgate/internal/client/introspect"
	"github.com/dmitrijs2005/authgate/internal/flagx"
	"github.com/dmitrijs2005/authgate/internal/logging"
	"github.com/dmitrijs2005/authgate/internal/server/config"
)

const usage = `Usage: authctl [global flags] <command> [flags]

Commands:
  migrate                 apply database migrations
  create-user             create a user (-email, -username, -role, -password-stdin)
  set-role -user <id> -role <user|admin>
                          change a user's role
  revoke -user <id>       delete every session of a user
  sweep                   delete expired sessions
  archive-audit           move old audit events to S3
  introspect <token>      check an access token over gRPC (-addr)
  help                    show this message

Global flags are those of the server (-d DSN, -s secret, -G gRPC address, ...).
`

// Introspector checks tokens against a running gateway.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*introspect.TokenInfo, error)
	Close() error
}

type App struct {
	config *config.Config
	logger logging.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	openBackend      func(ctx context.Context, c *config.Config, l logging.Logger) (Backend, error)
	dialIntrospector func(addr string) (Introspector, error)
}

func NewApp(c *config.Config) *App {
	return &App{
		config:      c,
		logger:      logging.NewJSONLogger(os.Stderr, c.LogLevel).With("module", "authctl"),
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		openBackend: openDB,
		dialIntrospector: func(addr string) (Introspector, error) {
			return introspect.New(addr, "")
		},
	}
}

// Run executes the command found in args (usually os.Args[1:]) and returns
// the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	cmd, rest := flagx.SplitCommand(args)

	var err error
	switch cmd {
	case "migrate":
		err = a.withBackend(ctx, func(b Backend) error { return a.migrate(ctx, b) })
	case "create-user":
		err = a.createUser(ctx, rest)
	case "set-role":
		err = a.setRole(ctx, rest)
	case "revoke":
		err = a.revoke(ctx, rest)
	case "sweep":
		err = a.withBackend(ctx, func(b Backend) error { return a.sweep(ctx, b) })
	case "archive-audit":
		err = a.withBackend(ctx, func(b Backend) error { return a.archiveAudit(ctx, b) })
	case "introspect":
		err = a.introspect(ctx, rest)
	case "", "help", "-h", "--help":
		fmt.Fprint(a.stdout, usage)
		if cmd == "" {
			return 2
		}
		return 0
	default:
		fmt.Fprintf(a.stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	if err != nil {
		fmt.Fprintf(a.stderr, "authctl %s: %v\n", cmd, err)
		return 1
	}
	return 0
}

func (a *App) withBackend(ctx context.Context, f func(Backend) error) error {
	b, err := a.openBackend(ctx, a.config, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			a.logger.Warn(ctx, "db close", "error", err)
		}
	}()
	return f(b)
}

// grpcTarget turns a listen address such as ":50051" into a dialable one.
func grpcTarget(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

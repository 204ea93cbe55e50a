// storefront is a command-line client for the storefront API.
// Each command performs a single operation, making it composable for scripts.
// Cart, credentials and session cookies persist between invocations.
//
// Commands:
//
//	storefront menu
//	storefront cart
//	storefront add -product ID [-qty N]
//	storefront qty -product ID -delta N
//	storefront remove -product ID
//	storefront coupon [-code CODE | -clear]
//	storefront checkout [-service DINE_IN|TAKEAWAY|DELIVERY]
//	storefront retry
//	storefront resume [-order ID]
//	storefront login -u USER [-p PASSWORD]
//	storefront register -u USER -email EMAIL [-p PASSWORD] [-first NAME] [-last NAME]
//	storefront logout
//	storefront orders
//	storefront whoami
//	storefront mcp
//	storefront serve
//
// Configuration comes from CONFIG_FILE or environment variables; see
// internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"storefront/internal/config"
	"storefront/internal/session"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	commands := map[string]func(args []string) error{
		"menu":     runMenu,
		"cart":     runCart,
		"add":      runAdd,
		"qty":      runQty,
		"remove":   runRemove,
		"coupon":   runCoupon,
		"checkout": runCheckout,
		"retry":    runRetry,
		"resume":   runResume,
		"login":    runLogin,
		"register": runRegister,
		"logout":   runLogout,
		"orders":   runOrders,
		"whoami":   runWhoami,
		"mcp":      runMCP,
		"serve":    runServe,
	}

	switch cmd {
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	case "version":
		fmt.Println(version)
		return
	}

	run, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err := run(args); err != nil {
		if errors.Is(err, errCheckoutFailed) {
			os.Exit(2)
		}
		fatal("%s", describeError(err))
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `storefront - storefront ordering client

Usage:
  storefront <command> [options]

Commands:
  menu      List menu items
  cart      Show the cart and totals
  add       Add a menu item to the cart
  qty       Change a cart line's quantity
  remove    Remove a cart line
  coupon    Apply or clear a promotion code
  checkout  Create an order from the cart and pay
  retry     Retry the last failed payment
  resume    Check a hosted payment and finish checkout
  login     Sign in and merge the cart into the account
  register  Create an account and sign in
  logout    Sign out and start a new cart
  orders    List your orders
  whoami    Show the signed-in user
  mcp       Serve the MCP tools over stdio
  serve     Serve the MCP tools over HTTP

Examples:
  storefront add -product 12 -qty 2
  storefront coupon -code SAVE10
  storefront checkout -service TAKEAWAY

Run 'storefront <command> -h' for command-specific options.
`)
}

// openSession loads configuration, builds the session and reconciles the
// cart with the backend.
func openSession(ctx context.Context, logger *slog.Logger) (*session.Session, *config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	s, err := session.New(ctx, cfg, logger,
		session.WithVersion(version),
		session.WithNavigator(printNavigator{}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("starting session: %w", err)
	}
	s.Boot(ctx)
	return s, cfg, nil
}

// withSession runs fn against a booted session and closes it afterwards,
// waiting for background cart pushes.
func withSession(fn func(ctx context.Context, s *session.Session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, _, err := openSession(ctx, initLogger(slog.LevelWarn))
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(ctx, s)
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability. Logs go to stderr so stdout
// stays clean for command output and the stdio MCP transport.
func initLogger(level slog.Level) *slog.Logger {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

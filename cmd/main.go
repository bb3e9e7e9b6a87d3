package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // devices often ship without a zoneinfo database

	"irrigation_controller/internal/config"
	"irrigation_controller/internal/handlers"
	"irrigation_controller/internal/logger"
	"irrigation_controller/internal/repository"
	"irrigation_controller/internal/repository/db"
	"irrigation_controller/internal/server"
	"irrigation_controller/internal/service"

	"github.com/spf13/cobra"
)

var (
	configDir   string
	noSleepFlag bool
)

var rootCmd = &cobra.Command{
	Use:           "irrigation",
	Short:         "Rain-aware irrigation controller",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run wake cycles: read the weather, drive the relay, sleep until the next alarm",
	RunE:  runCycles,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the diagnostics API",
	RunE:  runServe,
}

var tokenCmd = &cobra.Command{
	Use:   "token <operator>",
	Short: "Mint an operator token for the diagnostics API",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

var scratchCmd = &cobra.Command{
	Use:   "scratch",
	Short: "Inspect the state kept across sleeps",
}

var scratchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the scratch region, as a power-on reset does",
	RunE:  runScratchReset,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", "configs", "directory holding config.yml")
	runCmd.Flags().BoolVar(&noSleepFlag, "no-sleep", false, "run one cycle and exit, as with the no-sleep jumper fitted")
	scratchCmd.AddCommand(scratchResetCmd)
	rootCmd.AddCommand(runCmd, serveCmd, tokenCmd, scratchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is what every command needs: settings, a logger and the database.
type app struct {
	cfg   *config.Config
	log   *logger.Logger
	db    *sql.DB
	repos *repository.Repository
}

func newApp() (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return nil, err
	}
	conn, err := openDB(cfg, log)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to init sqlite: %w", err)
	}
	return &app{cfg: cfg, log: log, db: conn, repos: repository.NewRepository(conn)}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.Errorw("failed to close sqlite", "err", err)
	}
	a.log.Close()
}

// openDB initializes the SQLite database using configuration.
func openDB(cfg *config.Config, log *logger.Logger) (*sql.DB, error) {
	path := cfg.DB.Path
	if path == "" {
		log.Infow("db.path not set in config; using default file", "default", "irrigation.db")
		path = "irrigation.db"
	}
	return db.InitDB(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.cfg.RequireSigningKey(); err != nil {
		return err
	}

	auth := service.NewAuthService(a.cfg.Auth.SigningKey, a.cfg.Auth.TokenTTL)
	services := service.NewService(a.repos, auth)
	apiHandler := handlers.NewHandler(services, a.log)

	srv := &server.Server{}
	runHTTPServer(srv, a.cfg.Port, apiHandler, a.log)
	waitForShutdown(srv, a.log)
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("error reading config: %w", err)
	}
	if err := cfg.RequireSigningKey(); err != nil {
		return err
	}
	token, err := service.NewAuthService(cfg.Auth.SigningKey, cfg.Auth.TokenTTL).GenerateToken(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runScratchReset(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.repos.Scratch.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("clear scratch: %w", err)
	}
	a.log.Infow("scratch_cleared")
	return nil
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}

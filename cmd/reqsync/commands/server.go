package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/coord"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/server"
	"github.com/teranos/reqsync/sym"
)

// ServerCmd starts the coordination server
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   sym.Server + " Run the reqsync coordination server",
	Long: sym.Server + ` server — Run the reqsync coordination server

Loads every requisition from the database, then serves the REST API under
/api/requisitions and live updates on /ws. Changes to allowed origins,
client limits and rate limits in the user config file apply without a
restart.

Examples:
  reqsync server                        # Listen on the configured port (8787)
  reqsync server --port 9000
  reqsync server --db-path tmp/dev.db   # Use another SQLite file`,
	RunE: runServer,
}

var (
	serverPort   int
	serverBind   string
	serverDBPath string
)

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Port to listen on (overrides server.port)")
	ServerCmd.Flags().StringVar(&serverBind, "bind", "", "Address to bind (overrides server.bind_address)")
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "SQLite database path (overrides database.path)")
}

func runServer(cmd *cobra.Command, args []string) error {
	// Default to Info for the server
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
		logger.SetVerbosity(verbosity)
	}

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	serverCfg := cfg.Server
	if serverPort != 0 {
		serverCfg.Port = serverPort
	}
	if serverBind != "" {
		serverCfg.BindAddress = serverBind
	}

	conn, store, err := openStore(cfg, serverDBPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	coordinator := coord.New(store, coord.Options{
		PersistTimeout:   time.Duration(cfg.Coordination.PersistTimeoutMS) * time.Millisecond,
		SubscriberBuffer: cfg.Coordination.SubscriberBuffer,
		Logger:           logger.ComponentLogger("coord"),
	})
	if err := coordinator.Load(cmd.Context()); err != nil {
		return errors.Wrap(err, "failed to load requisitions")
	}

	srv, err := server.New(coordinator, serverCfg)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}
	srv.SetVerbosity(verbosity)
	watchConfig(srv)

	addr := net.JoinHostPort(serverCfg.BindAddress, fmt.Sprint(serverCfg.Port))
	printStartupBanner(verbosity, addr, describeDatabase(cfg.Database, serverDBPath), coordinator.Stats().Records)

	// Start server in background
	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(serverCfg.BindAddress, serverCfg.Port)
	}()

	// Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		if err != nil {
			return errors.Wrap(err, "server stopped")
		}
		return nil
	case <-sigChan:
		// First Ctrl+C - graceful shutdown
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			// Second Ctrl+C - force immediate exit
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// watchConfig hot-reloads the user config file when it exists. A missing
// file only disables reload.
func watchConfig(srv *server.Server) {
	path := am.UserConfigPath()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debugw("Config hot reload disabled", "path", path, logger.FieldError, err)
		return
	}

	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config hot reload disabled", "path", path, logger.FieldError, err)
		return
	}
	am.SetGlobalWatcher(watcher)
	srv.SetConfigWatcher(watcher)
	watcher.Start()
}

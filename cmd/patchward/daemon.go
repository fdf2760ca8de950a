package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/patchward/internal/audit"
	"github.com/fentz26/patchward/internal/config"
	"github.com/fentz26/patchward/internal/connectors/localexec"
	"github.com/fentz26/patchward/internal/controlplane"
	"github.com/fentz26/patchward/internal/patchtool"
	"github.com/fentz26/patchward/internal/scheduler"
	"github.com/fentz26/patchward/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	listenAddr string
	dbPath     string
	background bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the patchward daemon",
	Long:  `Starts the patchward daemon which serves the HTTP API and applies queued transactions.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
	daemonCmd.Flags().BoolVar(&background, "background", false, "Start the daemon detached and wait until it is healthy")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	if background {
		return startDaemon(cfg)
	}

	logger := newDaemonLogger(cfg)
	logger.Println("Starting patchward daemon...")

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		logger.Println("Closing database connection...")
		if err := s.Close(); err != nil {
			logger.Printf("Database close error: %v", err)
		}
	}()

	pdr := audit.NewPDRWriter(s)
	connector := localexec.New("", localexec.WithBinary(patchtool.Command, cfg.PatchBinary))

	service := controlplane.NewService(s, pdr, connector, logger)
	service.SetLockTTL(cfg.LockTTLSec)

	controlplane.Version = Version
	server := controlplane.NewServer(service, s, cfg.Listen)

	sched := scheduler.New(s, service, pdr, &cfg.Scheduler, logger)
	server.SetScheduler(sched)

	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP server shutdown error: %v", err)
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		logger.Printf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
	return err
}

// newDaemonLogger writes to a rotating file when log_file is configured.
func newDaemonLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes before rotation
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return log.New(out, "patchward: ", log.LstdFlags|log.Lmicroseconds)
}

// startDaemon re-executes the binary as a detached daemon and waits for its
// health endpoint to answer.
func startDaemon(cfg *config.Config) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"daemon", "--listen", cfg.Listen, "--db", cfg.DBPath}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(exe, args...)
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	if apiAddr == "" {
		apiAddr = "http://" + cfg.Listen
	}
	client := &http.Client{Timeout: 500 * time.Millisecond}

	fmt.Print("Waiting for daemon...")
	for i := 0; i < 20; i++ {
		if _, err := CheckHealth(client); err == nil {
			fmt.Printf(" ready (pid %d).\n", cmd.Process.Pid)
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" timeout!")
	return fmt.Errorf("daemon started but API not reachable at %s", apiAddr)
}

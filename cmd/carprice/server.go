package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/carprice/internal/api"
	"github.com/kalambet/carprice/internal/catalog"
	"github.com/kalambet/carprice/internal/config"
	"github.com/kalambet/carprice/internal/form"
	"github.com/kalambet/carprice/internal/metrics"
	"github.com/kalambet/carprice/internal/predictor"
	"github.com/kalambet/carprice/internal/session"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the carprice server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running carprice server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show carprice server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "carprice.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func setupLogging(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

// resources is the read-only state shared by every request.
type resources struct {
	catalog *catalog.Catalog
	model   *predictor.LinearModel
}

// loadResources reads the catalog and the model artifact concurrently. Either
// failing aborts startup.
func loadResources(ctx context.Context, cfg config.Config) (resources, error) {
	var res resources
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		c, err := catalog.Load(cfg.Data.CatalogPath)
		if err != nil {
			return fmt.Errorf("loading catalog: %w", err)
		}
		res.catalog = c
		return nil
	})
	g.Go(func() error {
		m, err := predictor.Load(cfg.Model.ArtifactPath)
		if err != nil {
			return fmt.Errorf("loading model: %w", err)
		}
		res.model = m
		return nil
	})

	if err := g.Wait(); err != nil {
		return resources{}, err
	}

	warnUnencodable(res)
	return res, nil
}

// warnUnencodable logs catalog values the model has no coefficient for.
// Predictions for them fail with a schema mismatch unless the artifact
// ignores unknown levels.
func warnUnencodable(res resources) {
	check := func(feature string, values []string) {
		known := make(map[string]bool)
		for _, l := range res.model.Levels(feature) {
			known[l] = true
		}
		var missing []string
		for _, v := range values {
			if !known[v] {
				missing = append(missing, v)
			}
		}
		if len(missing) > 0 {
			slog.Warn("catalog values unknown to the model", "feature", feature, "count", len(missing), "values", missing)
		}
	}

	check(predictor.FeatureCompany, res.catalog.Companies())
	check(predictor.FeatureFuelType, res.catalog.FuelTypes())
	var names []string
	for _, company := range res.catalog.Companies() {
		names = append(names, res.catalog.ModelsForCompany(company)...)
	}
	check(predictor.FeatureName, names)
}

func newController(cfg config.Config, res resources, m *metrics.Metrics) *form.Controller {
	return form.NewController(form.Deps{
		Catalog:   res.catalog,
		Predictor: predictor.WithTimeout(res.model, cfg.Model.TimeoutDuration()),
		Currency:  cfg.Display.CurrencySymbol,
		Metrics:   m,
	})
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "carprice version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	// Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := "http://" + dialAddr(cfg.Server) + "/health"
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("carprice is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("carprice is already running on %s", cfg.Server.Addr())
		return fmt.Errorf("server already running on %s", cfg.Server.Addr())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("Loading catalog %s and model %s", cfg.Data.CatalogPath, cfg.Model.ArtifactPath)
	res, err := loadResources(ctx, cfg)
	if err != nil {
		return err
	}
	slog.Info("resources loaded",
		"records", res.catalog.Len(),
		"companies", len(res.catalog.Companies()),
		"model", cfg.Model.ArtifactPath,
	)

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	handler := api.NewHandler(api.Deps{
		Catalog:    res.catalog,
		Controller: newController(cfg, res, m),
		Sessions: session.NewStore(session.Options{
			IdleTimeout: cfg.Session.IdleTimeoutDuration(),
			MaxSessions: cfg.Session.MaxSessions,
			Metrics:     m,
		}),
		Gatherer:   reg,
		SampleRows: cfg.Display.SampleRows,
		Currency:   cfg.Display.CurrencySymbol,
	})

	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		printSuccess("carprice listening on http://%s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("carprice is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop carprice (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to carprice (PID %d)", pid)
	return nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Records  int    `json:"records"`
	Sessions int    `json:"sessions"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + dialAddr(cfg.Server) + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		var health healthResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&health)
		resp.Body.Close()
		switch {
		case resp.StatusCode != http.StatusOK:
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		case decodeErr != nil:
			printStatus("Server", "running on %s (unreadable health response)", cfg.Server.Addr())
		default:
			printStatus("Server", "running on %s", cfg.Server.Addr())
			printStatus("Records", "%d", health.Records)
			printStatus("Sessions", "%d", health.Sessions)
		}
	}

	if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
		printStatus("PID", "%d", pid)
	}
	printStatus("Catalog", "%s", cfg.Data.CatalogPath)
	printStatus("Model", "%s", cfg.Model.ArtifactPath)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

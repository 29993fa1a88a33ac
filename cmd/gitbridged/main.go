package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/gitbridge/internal/bridge"
	"github.com/agentworkforce/gitbridge/internal/githost"
	"github.com/agentworkforce/gitbridge/internal/wsport"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	addr := os.Getenv("GITBRIDGE_ADDR")
	if addr == "" {
		addr = "127.0.0.1:8790"
	}
	storeDSN := strings.TrimSpace(os.Getenv("GITBRIDGE_STORE_DSN"))
	if storeDSN == "" {
		storeDSN = "file://.gitbridge/mirrors.json"
	}
	settingsPath := strings.TrimSpace(os.Getenv("GITBRIDGE_SETTINGS_FILE"))
	if settingsPath == "" {
		settingsPath = ".gitbridge/settings.json"
	}

	backend, err := bridge.BuildStateBackendFromDSN(storeDSN)
	if err != nil {
		logger.Fatal("failed to initialize mirror store backend", zap.String("dsn", storeDSN), zap.Error(err))
	}
	store := bridge.NewMirrorStore(backend, logger)

	settings, err := bridge.LoadSettings(settingsPath)
	if err != nil {
		logger.Fatal("failed to load settings", zap.String("path", settingsPath), zap.Error(err))
	}
	buildHost := func(s bridge.Settings) githost.HostClient {
		return githost.NewGitHubClient(s.Token, logger)
	}
	registry := bridge.NewRegistry(buildHost(settings), settings)

	validator, err := bridge.NewMessageValidator()
	if err != nil {
		logger.Fatal("failed to compile message schemas", zap.Error(err))
	}

	ledger := bridge.NewMemoryLedger(logger)
	router := bridge.NewPortRouter(bridge.RouterOptions{
		Registry:  registry,
		Store:     store,
		Validator: validator,
		Logger:    logger,
	})
	scheduler := bridge.NewCleanupScheduler(bridge.CleanupOptions{
		Registry: registry,
		Store:    store,
		Logger:   logger,
		MaxAge:      durationEnv("GITBRIDGE_MIRROR_MAX_AGE", 0),
		Interval:    durationEnv("GITBRIDGE_CLEANUP_INTERVAL", 0),
		MaxAttempts: intEnv("GITBRIDGE_CLEANUP_MAX_ATTEMPTS", 0),
	})
	importer := bridge.NewImporter(bridge.ImporterOptions{
		Registry:    registry,
		Store:       store,
		Ledger:      ledger,
		Broadcaster: router,
		Tabs:        router,
		Scheduler:   scheduler,
		Logger:      logger,
	})
	uploader := bridge.NewUploadOrchestrator(bridge.UploadOptions{
		Registry:    registry,
		Processor:   buildZipProcessor(logger),
		Broadcaster: router,
		Logger:      logger,
		Timeout:     durationEnv("GITBRIDGE_UPLOAD_TIMEOUT", 0),
	})
	router.Bind(importer, uploader, scheduler)

	watcher, err := bridge.NewSettingsWatcher(bridge.SettingsWatcherOptions{
		Path:      settingsPath,
		Registry:  registry,
		Logger:    logger,
		BuildHost: buildHost,
	})
	if err != nil {
		logger.Warn("settings file watching disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	// Mirrors left behind by a previous run still need reclaiming.
	if count, err := store.Len(); err == nil && count > 0 {
		logger.Info("found leftover temporary mirrors, starting cleanup", zap.Int("count", count))
		scheduler.Start()
	}

	server := wsport.NewServer(router, store, logger, wsport.ServerConfig{
		AuthToken: strings.TrimSpace(os.Getenv("GITBRIDGE_AUTH_TOKEN")),
	})
	logger.Info("gitbridged listening", zap.String("addr", addr), zap.String("storeDSN", storeDSN))
	if err := http.ListenAndServe(addr, server); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// buildZipProcessor forwards uploads to the external archive pipeline. With no
// pipeline configured every upload fails fast with a configuration error.
func buildZipProcessor(logger *zap.Logger) bridge.ZipProcessor {
	pipelineURL := strings.TrimSpace(os.Getenv("GITBRIDGE_PIPELINE_URL"))
	if pipelineURL == "" {
		return bridge.ZipProcessorFunc(func(context.Context, []byte, string, string) error {
			return fmt.Errorf("no archive pipeline configured, set GITBRIDGE_PIPELINE_URL")
		})
	}
	client := &http.Client{}
	return bridge.ZipProcessorFunc(func(ctx context.Context, data []byte, projectID, commitMessage string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, pipelineURL, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/zip")
		req.Header.Set("X-Project-Id", projectID)
		req.Header.Set("X-Commit-Message", commitMessage)
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			logger.Warn("archive pipeline rejected upload",
				zap.Int("status", resp.StatusCode),
				zap.String("projectId", projectID))
			return &githost.HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		}
		return nil
	})
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}

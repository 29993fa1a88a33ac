package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/agentworkforce/gitbridge/internal/githost"
)

const (
	defaultToolHost    = "bolt.new"
	defaultHostingHost = "github.com"
)

// Settings is the user configuration read from the settings file: the host
// credentials plus the hosts used to build editor deep links.
type Settings struct {
	Token       string     `json:"token"`
	AuthMethod  AuthMethod `json:"authMethod"`
	Owner       string     `json:"owner"`
	ToolHost    string     `json:"toolHost"`
	HostingHost string     `json:"hostingHost"`
}

func (s Settings) withDefaults() Settings {
	if s.ToolHost == "" {
		s.ToolHost = defaultToolHost
	}
	if s.HostingHost == "" {
		s.HostingHost = defaultHostingHost
	}
	switch s.AuthMethod {
	case AuthPAT, AuthHostApp:
	default:
		s.AuthMethod = AuthUnknown
	}
	return s
}

// LoadSettings reads the settings file. A missing file is not an error; the
// daemon starts unconfigured and picks the file up when it appears.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Settings{}.withDefaults(), nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	settings.Token = strings.TrimSpace(settings.Token)
	settings.Owner = strings.TrimSpace(settings.Owner)
	return settings.withDefaults(), nil
}

type SettingsWatcherOptions struct {
	Path      string
	Registry  *Registry
	Logger    *zap.Logger
	BuildHost func(Settings) githost.HostClient
}

// SettingsWatcher reloads the settings file when it changes on disk and swaps
// the registry's settings and host client. Reload errors are logged, never
// fatal; the last good settings stay active.
type SettingsWatcher struct {
	path      string
	registry  *Registry
	logger    *zap.Logger
	buildHost func(Settings) githost.HostClient
	watcher   *fsnotify.Watcher
}

func NewSettingsWatcher(opts SettingsWatcherOptions) (*SettingsWatcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create settings watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files by rename and
	// a watch on the old inode would go stale.
	dir := filepath.Dir(opts.Path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch settings directory %s: %w", dir, err)
	}
	w := &SettingsWatcher{
		path:      opts.Path,
		registry:  opts.Registry,
		logger:    logger,
		buildHost: opts.BuildHost,
		watcher:   watcher,
	}
	go w.loop()
	return w, nil
}

func (w *SettingsWatcher) Close() error {
	return w.watcher.Close()
}

func (w *SettingsWatcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

func (w *SettingsWatcher) reload() {
	settings, err := LoadSettings(w.path)
	if err != nil {
		w.logger.Warn("settings reload failed, keeping previous settings", zap.Error(err))
		return
	}
	current := w.registry.Settings()
	if settings == current {
		return
	}
	w.registry.SetSettings(settings)
	credentialsChanged := settings.Token != current.Token ||
		settings.AuthMethod != current.AuthMethod ||
		settings.Owner != current.Owner
	if credentialsChanged && w.buildHost != nil {
		w.registry.SetHost(w.buildHost(settings))
	}
	w.logger.Info("settings reloaded",
		zap.String("owner", settings.Owner),
		zap.String("authMethod", string(settings.AuthMethod)),
		zap.Bool("hostRebuilt", credentialsChanged))
}

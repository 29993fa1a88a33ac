package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// NoTabKey is the port key for UI surfaces that are not tied to a tab.
const NoTabKey = -1

// Port is one long-lived connection to a UI surface.
type Port interface {
	Name() string
	Key() int
	Send(msg any) error
}

type ImportHandler interface {
	Import(ctx context.Context, repoName, branch string) error
}

type UploadHandler interface {
	HandleUpload(ctx context.Context, encoded, projectID string) error
	SetCommitMessage(message string)
}

type CleanupHandler interface {
	RunCleanupPass(ctx context.Context, force bool) (int, error)
}

var defaultAllowedSurfaces = []string{"bolt-ui", "popup", "side-panel", "content-script"}

type RouterOptions struct {
	Registry        *Registry
	Store           *MirrorStore
	Validator       *MessageValidator
	Logger          *zap.Logger
	AllowedSurfaces []string
}

// PortRouter owns the set of active UI connections, dispatches inbound typed
// messages, and fans status broadcasts out to every connected surface.
type PortRouter struct {
	registry  *Registry
	store     *MirrorStore
	validator *MessageValidator
	logger    *zap.Logger
	allowed   map[string]bool

	importer ImportHandler
	uploader UploadHandler
	cleanup  CleanupHandler

	mu    sync.Mutex
	ports map[int]Port
}

func NewPortRouter(opts RouterOptions) *PortRouter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	surfaces := opts.AllowedSurfaces
	if len(surfaces) == 0 {
		surfaces = defaultAllowedSurfaces
	}
	allowed := make(map[string]bool, len(surfaces))
	for _, name := range surfaces {
		allowed[name] = true
	}
	return &PortRouter{
		registry:  opts.Registry,
		store:     opts.Store,
		validator: opts.Validator,
		logger:    logger,
		allowed:   allowed,
		ports:     map[int]Port{},
	}
}

// Bind attaches the message handlers. Handlers are bound after construction
// because the importer and uploader broadcast through the router themselves.
func (r *PortRouter) Bind(importer ImportHandler, uploader UploadHandler, cleanup CleanupHandler) {
	r.importer = importer
	r.uploader = uploader
	r.cleanup = cleanup
}

// Register stores the port under its tab key. Connections from surfaces
// outside the allow-list are rejected.
func (r *PortRouter) Register(p Port) error {
	if !r.allowed[p.Name()] {
		r.logger.Warn("rejected connection from unknown surface", zap.String("surface", p.Name()))
		return fmt.Errorf("%w: surface %q is not allowed", ErrInvalidInput, p.Name())
	}
	r.mu.Lock()
	r.ports[p.Key()] = p
	count := len(r.ports)
	r.mu.Unlock()
	r.logger.Info("port connected", zap.String("surface", p.Name()), zap.Int("key", p.Key()), zap.Int("ports", count))
	return nil
}

func (r *PortRouter) Unregister(key int) {
	r.mu.Lock()
	delete(r.ports, key)
	count := len(r.ports)
	r.mu.Unlock()
	r.logger.Info("port disconnected", zap.Int("key", key), zap.Int("ports", count))
}

func (r *PortRouter) PortCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ports)
}

// Dispatch handles one inbound message from the port with the given key.
// Unknown types are a logged no-op; a failure while handling one message is
// reported to that port only and never crashes the router.
func (r *PortRouter) Dispatch(ctx context.Context, key int, msg Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while handling message", zap.String("type", msg.Type), zap.Any("panic", rec))
			r.sendErrorTo(key, fmt.Sprintf("Internal error handling %s.", msg.Type))
		}
	}()

	if err := r.validator.Validate(msg.Type, msg.Data); err != nil {
		r.logger.Warn("invalid message payload", zap.String("type", msg.Type), zap.Error(err))
		r.sendErrorTo(key, fmt.Sprintf("Invalid %s payload.", msg.Type))
		return
	}

	switch msg.Type {
	case MsgZipData:
		var payload struct {
			Data      string `json:"data"`
			ProjectID string `json:"projectId"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			r.sendErrorTo(key, "Invalid ZIP_DATA payload.")
			return
		}
		// Terminal statuses are broadcast by the orchestrator itself.
		_ = r.uploader.HandleUpload(ctx, payload.Data, payload.ProjectID)
	case MsgSetCommitMessage:
		var payload struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			r.sendErrorTo(key, "Invalid SET_COMMIT_MESSAGE payload.")
			return
		}
		r.uploader.SetCommitMessage(payload.Message)
	case MsgOpenSettings:
		r.sendTo(key, Message{Type: MsgOpenSettings})
	case MsgImportPrivateRepo:
		var payload struct {
			RepoName string `json:"repoName"`
			Branch   string `json:"branch"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			r.sendErrorTo(key, "Invalid IMPORT_PRIVATE_REPO payload.")
			return
		}
		_ = r.importer.Import(ctx, payload.RepoName, payload.Branch)
	case MsgDeleteTempRepo:
		if _, err := r.cleanup.RunCleanupPass(ctx, true); err != nil {
			r.logger.Warn("forced cleanup pass failed", zap.Error(err))
			r.sendErrorTo(key, "Cleanup of temporary repositories failed.")
		}
	case MsgDebug:
		r.sendTo(key, r.debugAck())
	case MsgContentScriptReady:
		r.logger.Debug("content script ready", zap.Int("key", key))
	default:
		r.logger.Warn("ignoring unknown message type", zap.String("type", msg.Type))
	}
}

// Broadcast sends the status to every registered port. A send failure on one
// port does not abort delivery to the others.
func (r *PortRouter) Broadcast(status UploadStatus) {
	envelope := StatusEnvelope{Type: MsgUploadStatus, Status: status}
	for key, port := range r.snapshotPorts() {
		if err := port.Send(envelope); err != nil {
			r.logger.Warn("broadcast to port failed", zap.Int("key", key), zap.Error(err))
		}
	}
}

// OpenTab asks every connected surface to open the URL in a new tab.
func (r *PortRouter) OpenTab(url string, focused bool) error {
	data, err := json.Marshal(TabRequest{URL: url, Focused: focused})
	if err != nil {
		return err
	}
	msg := Message{Type: MsgOpenTab, Data: data}
	for key, port := range r.snapshotPorts() {
		if err := port.Send(msg); err != nil {
			r.logger.Warn("tab open request to port failed", zap.Int("key", key), zap.Error(err))
		}
	}
	return nil
}

func (r *PortRouter) snapshotPorts() map[int]Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int]Port, len(r.ports))
	for key, port := range r.ports {
		snapshot[key] = port
	}
	return snapshot
}

func (r *PortRouter) sendTo(key int, msg any) {
	r.mu.Lock()
	port, ok := r.ports[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := port.Send(msg); err != nil {
		r.logger.Warn("send to port failed", zap.Int("key", key), zap.Error(err))
	}
}

func (r *PortRouter) sendErrorTo(key int, message string) {
	r.sendTo(key, StatusEnvelope{
		Type:   MsgUploadStatus,
		Status: UploadStatus{Status: StatusError, Message: message, Progress: 100},
	})
}

func (r *PortRouter) debugAck() Message {
	settings := r.registry.Settings()
	count := 0
	if r.store != nil {
		count, _ = r.store.Len()
	}
	data, _ := json.Marshal(map[string]any{
		"authMethod":  settings.AuthMethod,
		"mirrorCount": count,
	})
	return Message{Type: MsgDebug, Data: data}
}

package bridge

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/gitbridge/internal/githost"
)

const (
	DefaultCommitMessage = "Update from gitbridge"

	defaultUploadTimeout = 2 * time.Minute
)

// ZipProcessor is the external archive pipeline that turns an uploaded
// archive into commits.
type ZipProcessor interface {
	ProcessZipFile(ctx context.Context, data []byte, projectID, commitMessage string) error
}

type ZipProcessorFunc func(ctx context.Context, data []byte, projectID, commitMessage string) error

func (f ZipProcessorFunc) ProcessZipFile(ctx context.Context, data []byte, projectID, commitMessage string) error {
	return f(ctx, data, projectID, commitMessage)
}

type UploadOptions struct {
	Registry    *Registry
	Processor   ZipProcessor
	Broadcaster Broadcaster
	Logger      *zap.Logger
	Timeout     time.Duration
}

// UploadOrchestrator bridges inbound archive uploads to the archive pipeline,
// enforcing a hard deadline and holding the pending commit message used by
// the next upload.
type UploadOrchestrator struct {
	registry    *Registry
	processor   ZipProcessor
	broadcaster Broadcaster
	logger      *zap.Logger
	timeout     time.Duration

	mu            sync.Mutex
	commitMessage string
}

func NewUploadOrchestrator(opts UploadOptions) *UploadOrchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	return &UploadOrchestrator{
		registry:      opts.Registry,
		processor:     opts.Processor,
		broadcaster:   opts.Broadcaster,
		logger:        logger,
		timeout:       timeout,
		commitMessage: DefaultCommitMessage,
	}
}

// SetCommitMessage stores the commit message used by the next upload.
func (u *UploadOrchestrator) SetCommitMessage(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = DefaultCommitMessage
	}
	u.mu.Lock()
	u.commitMessage = message
	u.mu.Unlock()
}

func (u *UploadOrchestrator) CommitMessage() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.commitMessage
}

// HandleUpload validates and forwards one archive upload. Validation
// failures surface immediately; the pipeline call runs under a hard deadline
// and is abandoned, not cancelled, when it expires.
func (u *UploadOrchestrator) HandleUpload(ctx context.Context, encoded, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return u.reject(fmt.Errorf("%w: project ID is missing", ErrInvalidInput),
			"No project ID found. Open the project in the editor and try again.")
	}
	settings := u.registry.Settings()
	if settings.Token == "" || settings.Owner == "" {
		return u.reject(fmt.Errorf("%w: missing credentials", ErrInvalidInput),
			"Missing credentials. Configure a token and owner in settings first.")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return u.reject(fmt.Errorf("%w: archive payload is not valid base64", ErrInvalidInput),
			"The uploaded archive could not be decoded.")
	}
	if len(data) == 0 {
		return u.reject(fmt.Errorf("%w: archive payload is empty", ErrInvalidInput),
			"The uploaded archive is empty.")
	}

	commitMessage := u.CommitMessage()
	u.broadcast(UploadStatus{Status: StatusUploading, Message: "Uploading project...", Progress: 0})

	result := make(chan error, 1)
	go func() {
		result <- u.processor.ProcessZipFile(ctx, data, projectID, commitMessage)
	}()

	timer := time.NewTimer(u.timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		if err != nil {
			u.logger.Warn("upload failed", zap.String("projectId", projectID), zap.Error(err))
			u.broadcast(UploadStatus{Status: StatusError, Message: githost.UserMessage(err), Progress: 100})
			return err
		}
	case <-timer.C:
		// The in-flight pipeline call is abandoned; its eventual result is
		// discarded through the buffered channel.
		err := fmt.Errorf("upload timed out after %s", u.timeout)
		u.logger.Warn("upload abandoned after deadline", zap.String("projectId", projectID))
		u.broadcast(UploadStatus{Status: StatusError, Message: err.Error(), Progress: 100})
		return err
	case <-ctx.Done():
		err := ctx.Err()
		u.broadcast(UploadStatus{Status: StatusError, Message: "Upload cancelled.", Progress: 100})
		return err
	}

	u.SetCommitMessage(DefaultCommitMessage)
	u.broadcast(UploadStatus{Status: StatusSuccess, Message: "Project uploaded.", Progress: 100})
	u.logger.Info("upload completed", zap.String("projectId", projectID))
	return nil
}

func (u *UploadOrchestrator) reject(err error, message string) error {
	u.logger.Warn("upload rejected", zap.Error(err))
	u.broadcast(UploadStatus{Status: StatusError, Message: message, Progress: 100})
	return err
}

func (u *UploadOrchestrator) broadcast(status UploadStatus) {
	if u.broadcaster != nil {
		u.broadcaster.Broadcast(status)
	}
}

package bridge

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
	ErrNotFound     = errors.New("not found")
)

type AuthMethod string

const (
	AuthPAT     AuthMethod = "pat"
	AuthHostApp AuthMethod = "host_app"
	AuthUnknown AuthMethod = "unknown"
)

type MirrorRecord struct {
	SourceRepo      string     `json:"sourceRepo"`
	MirrorRepo      string     `json:"mirrorRepo"`
	Owner           string     `json:"owner"`
	Branch          string     `json:"branch"`
	CreatedAt       time.Time  `json:"createdAt"`
	AuthMethod      AuthMethod `json:"authMethod"`
	OperationID     string     `json:"operationId"`
	CleanupAttempts int        `json:"cleanupAttempts,omitempty"`
}

const (
	MsgZipData            = "ZIP_DATA"
	MsgSetCommitMessage   = "SET_COMMIT_MESSAGE"
	MsgOpenSettings       = "OPEN_SETTINGS"
	MsgImportPrivateRepo  = "IMPORT_PRIVATE_REPO"
	MsgDeleteTempRepo     = "DELETE_TEMP_REPO"
	MsgDebug              = "DEBUG"
	MsgContentScriptReady = "CONTENT_SCRIPT_READY"
	MsgUploadStatus       = "UPLOAD_STATUS"
	MsgOpenTab            = "OPEN_TAB"
)

type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	StatusUploading = "uploading"
	StatusSuccess   = "success"
	StatusError     = "error"
)

type UploadStatus struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

type StatusEnvelope struct {
	Type   string       `json:"type"`
	Status UploadStatus `json:"status"`
}

type TabRequest struct {
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
}

type Broadcaster interface {
	Broadcast(status UploadStatus)
}

type TabOpener interface {
	OpenTab(url string, focused bool) error
}

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type fakePort struct {
	mu   sync.Mutex
	name string
	key  int
	sent []any
	err  error
}

func (p *fakePort) Name() string { return p.name }
func (p *fakePort) Key() int     { return p.key }

func (p *fakePort) Send(msg any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *fakePort) messages() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]any(nil), p.sent...)
}

type fakeImportHandler struct {
	mu      sync.Mutex
	imports [][2]string
	panics  bool
}

func (h *fakeImportHandler) Import(_ context.Context, repoName, branch string) error {
	if h.panics {
		panic("importer exploded")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.imports = append(h.imports, [2]string{repoName, branch})
	return nil
}

type fakeUploadHandler struct {
	mu      sync.Mutex
	uploads []string
	commit  string
}

func (h *fakeUploadHandler) HandleUpload(_ context.Context, encoded, projectID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uploads = append(h.uploads, projectID)
	return nil
}

func (h *fakeUploadHandler) SetCommitMessage(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commit = message
}

type fakeCleanupHandler struct {
	mu     sync.Mutex
	forced int
	err    error
}

func (h *fakeCleanupHandler) RunCleanupPass(_ context.Context, force bool) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if force {
		h.forced++
	}
	return 0, h.err
}

func newTestRouter(t *testing.T) (*PortRouter, *fakeImportHandler, *fakeUploadHandler, *fakeCleanupHandler) {
	t.Helper()
	validator, err := NewMessageValidator()
	if err != nil {
		t.Fatalf("NewMessageValidator: %v", err)
	}
	router := NewPortRouter(RouterOptions{
		Registry:  newTestRegistry(&fakeHost{}),
		Store:     newTestStore(),
		Validator: validator,
	})
	importer := &fakeImportHandler{}
	uploader := &fakeUploadHandler{}
	cleanup := &fakeCleanupHandler{}
	router.Bind(importer, uploader, cleanup)
	return router, importer, uploader, cleanup
}

func mustRegister(t *testing.T, router *PortRouter, port *fakePort) {
	t.Helper()
	if err := router.Register(port); err != nil {
		t.Fatalf("Register %s: %v", port.name, err)
	}
}

func TestRegisterRejectsUnknownSurface(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	err := router.Register(&fakePort{name: "evil-extension", key: 1})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
	if router.PortCount() != 0 {
		t.Fatal("rejected port must not be registered")
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	mustRegister(t, router, &fakePort{name: "popup", key: NoTabKey})
	mustRegister(t, router, &fakePort{name: "bolt-ui", key: 7})
	if router.PortCount() != 2 {
		t.Fatalf("PortCount = %d", router.PortCount())
	}
	router.Unregister(7)
	if router.PortCount() != 1 {
		t.Fatalf("PortCount after unregister = %d", router.PortCount())
	}
}

func TestDispatchSetCommitMessage(t *testing.T) {
	router, _, uploader, _ := newTestRouter(t)
	mustRegister(t, router, &fakePort{name: "bolt-ui", key: 1})

	router.Dispatch(context.Background(), 1, Message{
		Type: MsgSetCommitMessage,
		Data: json.RawMessage(`{"message":"fix: parser"}`),
	})
	if uploader.commit != "fix: parser" {
		t.Fatalf("commit = %q", uploader.commit)
	}
}

func TestDispatchImportPrivateRepo(t *testing.T) {
	router, importer, _, _ := newTestRouter(t)
	mustRegister(t, router, &fakePort{name: "bolt-ui", key: 1})

	router.Dispatch(context.Background(), 1, Message{
		Type: MsgImportPrivateRepo,
		Data: json.RawMessage(`{"repoName":"proj","branch":"dev"}`),
	})
	if len(importer.imports) != 1 || importer.imports[0] != [2]string{"proj", "dev"} {
		t.Fatalf("imports = %v", importer.imports)
	}
}

func TestDispatchZipData(t *testing.T) {
	router, _, uploader, _ := newTestRouter(t)
	mustRegister(t, router, &fakePort{name: "bolt-ui", key: 1})

	router.Dispatch(context.Background(), 1, Message{
		Type: MsgZipData,
		Data: json.RawMessage(`{"data":"emlw","projectId":"proj-1"}`),
	})
	if len(uploader.uploads) != 1 || uploader.uploads[0] != "proj-1" {
		t.Fatalf("uploads = %v", uploader.uploads)
	}
}

func TestDispatchDeleteTempRepoForcesCleanup(t *testing.T) {
	router, _, _, cleanup := newTestRouter(t)
	mustRegister(t, router, &fakePort{name: "popup", key: 1})

	router.Dispatch(context.Background(), 1, Message{Type: MsgDeleteTempRepo})
	if cleanup.forced != 1 {
		t.Fatalf("forced passes = %d", cleanup.forced)
	}
}

func TestDispatchOpenSettingsEchoesToSenderOnly(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	sender := &fakePort{name: "popup", key: 1}
	other := &fakePort{name: "bolt-ui", key: 2}
	mustRegister(t, router, sender)
	mustRegister(t, router, other)

	router.Dispatch(context.Background(), 1, Message{Type: MsgOpenSettings})

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sender received %d messages", len(msgs))
	}
	if msg, ok := msgs[0].(Message); !ok || msg.Type != MsgOpenSettings {
		t.Fatalf("sender received %+v", msgs[0])
	}
	if len(other.messages()) != 0 {
		t.Fatalf("other port received %v", other.messages())
	}
}

func TestDispatchInvalidPayloadRejectedPerPort(t *testing.T) {
	router, _, uploader, _ := newTestRouter(t)
	sender := &fakePort{name: "bolt-ui", key: 1}
	other := &fakePort{name: "popup", key: 2}
	mustRegister(t, router, sender)
	mustRegister(t, router, other)

	// ZIP_DATA without the required data field.
	router.Dispatch(context.Background(), 1, Message{
		Type: MsgZipData,
		Data: json.RawMessage(`{"projectId":"proj-1"}`),
	})
	if len(uploader.uploads) != 0 {
		t.Fatal("invalid payload must not reach the handler")
	}
	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sender received %d messages", len(msgs))
	}
	envelope, ok := msgs[0].(StatusEnvelope)
	if !ok || envelope.Status.Status != StatusError {
		t.Fatalf("sender received %+v", msgs[0])
	}
	if len(other.messages()) != 0 {
		t.Fatal("validation failures must stay on the offending port")
	}
}

func TestDispatchPanicIsolated(t *testing.T) {
	router, importer, _, _ := newTestRouter(t)
	importer.panics = true
	sender := &fakePort{name: "bolt-ui", key: 1}
	other := &fakePort{name: "popup", key: 2}
	mustRegister(t, router, sender)
	mustRegister(t, router, other)

	router.Dispatch(context.Background(), 1, Message{
		Type: MsgImportPrivateRepo,
		Data: json.RawMessage(`{"repoName":"proj"}`),
	})

	msgs := sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("sender received %d messages", len(msgs))
	}
	envelope, ok := msgs[0].(StatusEnvelope)
	if !ok || envelope.Status.Status != StatusError {
		t.Fatalf("sender received %+v", msgs[0])
	}
	if len(other.messages()) != 0 {
		t.Fatal("panic must not leak to other ports")
	}
}

func TestDispatchUnknownTypeIgnored(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	port := &fakePort{name: "bolt-ui", key: 1}
	mustRegister(t, router, port)

	router.Dispatch(context.Background(), 1, Message{Type: "WAT", Data: json.RawMessage(`{}`)})
	if len(port.messages()) != 0 {
		t.Fatalf("unknown type should be a no-op, got %v", port.messages())
	}
}

func TestBroadcastSurvivesFailingPort(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	broken := &fakePort{name: "bolt-ui", key: 1, err: errors.New("closed")}
	healthy := &fakePort{name: "popup", key: 2}
	mustRegister(t, router, broken)
	mustRegister(t, router, healthy)

	router.Broadcast(UploadStatus{Status: StatusUploading, Message: "working", Progress: 10})

	msgs := healthy.messages()
	if len(msgs) != 1 {
		t.Fatalf("healthy port received %d messages", len(msgs))
	}
	envelope, ok := msgs[0].(StatusEnvelope)
	if !ok || envelope.Type != MsgUploadStatus || envelope.Status.Progress != 10 {
		t.Fatalf("healthy port received %+v", msgs[0])
	}
}

func TestOpenTabBroadcastsToAllPorts(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	a := &fakePort{name: "bolt-ui", key: 1}
	b := &fakePort{name: "side-panel", key: 2}
	mustRegister(t, router, a)
	mustRegister(t, router, b)

	if err := router.OpenTab("https://bolt.new/~/github.com/octo/temp-x", true); err != nil {
		t.Fatalf("OpenTab: %v", err)
	}
	for _, port := range []*fakePort{a, b} {
		msgs := port.messages()
		if len(msgs) != 1 {
			t.Fatalf("port %d received %d messages", port.key, len(msgs))
		}
		msg, ok := msgs[0].(Message)
		if !ok || msg.Type != MsgOpenTab {
			t.Fatalf("port %d received %+v", port.key, msgs[0])
		}
		var req TabRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			t.Fatalf("decode tab request: %v", err)
		}
		if req.URL != "https://bolt.new/~/github.com/octo/temp-x" || !req.Focused {
			t.Fatalf("tab request = %+v", req)
		}
	}
}

func TestDispatchDebugAck(t *testing.T) {
	router, _, _, _ := newTestRouter(t)
	port := &fakePort{name: "popup", key: 1}
	mustRegister(t, router, port)

	router.Dispatch(context.Background(), 1, Message{Type: MsgDebug})
	msgs := port.messages()
	if len(msgs) != 1 {
		t.Fatalf("port received %d messages", len(msgs))
	}
	msg, ok := msgs[0].(Message)
	if !ok || msg.Type != MsgDebug {
		t.Fatalf("port received %+v", msgs[0])
	}
	var ack struct {
		AuthMethod  string `json:"authMethod"`
		MirrorCount int    `json:"mirrorCount"`
	}
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.AuthMethod != string(AuthPAT) || ack.MirrorCount != 0 {
		t.Fatalf("ack = %+v", ack)
	}
}

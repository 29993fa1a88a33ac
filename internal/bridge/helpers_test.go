package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/agentworkforce/gitbridge/internal/githost"
)

type fakeHost struct {
	mu            sync.Mutex
	created       []string
	deleted       []string
	putPaths      []string
	madePublic    []string
	createErr     error
	deleteErr     func(name string) error
	branches      []githost.Branch
	branchesErr   error
	entries       []githost.Entry
	listErr       error
	getContentErr error
	putErr        func(path string) error
	visibilityErr error
}

func (h *fakeHost) CreateRepo(_ context.Context, name string, _, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.createErr != nil {
		return h.createErr
	}
	h.created = append(h.created, name)
	return nil
}

func (h *fakeHost) DeleteRepo(_ context.Context, _, name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.deleteErr != nil {
		if err := h.deleteErr(name); err != nil {
			return err
		}
	}
	h.deleted = append(h.deleted, name)
	return nil
}

func (h *fakeHost) ListBranches(context.Context, string, string) ([]githost.Branch, error) {
	return h.branches, h.branchesErr
}

func (h *fakeHost) ListContents(context.Context, string, string, string, string) ([]githost.Entry, error) {
	return h.entries, h.listErr
}

func (h *fakeHost) GetFileContent(_ context.Context, _, _, path, _ string) (string, error) {
	if h.getContentErr != nil {
		return "", h.getContentErr
	}
	return "content of " + path, nil
}

func (h *fakeHost) PutFile(_ context.Context, _, repo, path, _, _, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.putErr != nil {
		if err := h.putErr(path); err != nil {
			return err
		}
	}
	h.putPaths = append(h.putPaths, repo+":"+path)
	return nil
}

func (h *fakeHost) SetRepoVisibility(_ context.Context, _, repo string, _ bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.visibilityErr != nil {
		return h.visibilityErr
	}
	h.madePublic = append(h.madePublic, repo)
	return nil
}

func (h *fakeHost) Request(context.Context, string, string, any) (json.RawMessage, error) {
	return nil, nil
}

func (h *fakeHost) deletedRepos() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.deleted...)
}

func (h *fakeHost) createdRepos() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.created...)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []UploadStatus
}

func (r *statusRecorder) Broadcast(status UploadStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) all() []UploadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]UploadStatus(nil), r.statuses...)
}

func (r *statusRecorder) last() (UploadStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statuses) == 0 {
		return UploadStatus{}, false
	}
	return r.statuses[len(r.statuses)-1], true
}

type fakeTabs struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (t *fakeTabs) OpenTab(url string, _ bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.urls = append(t.urls, url)
	return nil
}

func (t *fakeTabs) opened() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.urls...)
}

func newTestRegistry(host githost.HostClient) *Registry {
	return NewRegistry(host, Settings{
		Token:       "test-token",
		AuthMethod:  AuthPAT,
		Owner:       "octo",
		ToolHost:    "bolt.new",
		HostingHost: "github.com",
	})
}

func newTestStore() *MirrorStore {
	return NewMirrorStore(NewInMemoryStateBackend(), nil)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func fixedSuffix(s string) func(int) string {
	return func(n int) string {
		if n > len(s) {
			return s
		}
		return s[:n]
	}
}

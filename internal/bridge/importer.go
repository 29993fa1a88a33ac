package bridge

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentworkforce/gitbridge/internal/githost"
)

const defaultCopyBatchSize = 10

type ImporterOptions struct {
	Registry    *Registry
	Store       *MirrorStore
	Ledger      OperationLedger
	Broadcaster Broadcaster
	Tabs        TabOpener
	Scheduler   *CleanupScheduler
	Logger      *zap.Logger
	Now         func() time.Time
	RandSuffix  func(n int) string
	BatchSize   int
}

// Importer runs the private-repository import workflow: create a disposable
// public mirror, copy the source contents into it, flip it public, open it in
// the target tool, and persist a mirror record for later cleanup.
type Importer struct {
	registry    *Registry
	store       *MirrorStore
	ledger      OperationLedger
	broadcaster Broadcaster
	tabs        TabOpener
	scheduler   *CleanupScheduler
	logger      *zap.Logger
	now         func() time.Time
	randSuffix  func(n int) string
	batchSize   int

	clockMu    sync.Mutex
	lastIssued time.Time
}

func NewImporter(opts ImporterOptions) *Importer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	suffix := opts.RandSuffix
	if suffix == nil {
		suffix = randSuffix
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultCopyBatchSize
	}
	return &Importer{
		registry:    opts.Registry,
		store:       opts.Store,
		ledger:      opts.Ledger,
		broadcaster: opts.Broadcaster,
		tabs:        opts.Tabs,
		scheduler:   opts.Scheduler,
		logger:      logger,
		now:         now,
		randSuffix:  suffix,
		batchSize:   batchSize,
	}
}

// Import is the handlePrivateRepoImport entry point. All failures are caught
// here: the ledger records the terminal transition and the UI always receives
// a terminal status. The returned error is informational for the caller.
func (i *Importer) Import(ctx context.Context, repoName, branch string) error {
	repoName = strings.TrimSpace(repoName)
	settings := i.registry.Settings()
	opID := fmt.Sprintf("import_%d_%s", i.now().UnixMilli(), i.randSuffix(4))
	i.ledger.StartOperation(opID, "import", map[string]string{
		"sourceRepo": repoName,
		"branch":     branch,
		"authMethod": string(settings.AuthMethod),
	})

	if repoName == "" {
		err := fmt.Errorf("%w: repository name is required", ErrInvalidInput)
		return i.fail(ctx, opID, "", "", err)
	}
	if settings.Token == "" || settings.Owner == "" {
		err := fmt.Errorf("%w: missing credentials, configure a token and owner first", ErrInvalidInput)
		return i.fail(ctx, opID, "", "", err)
	}

	host := i.registry.Host()
	owner := settings.Owner
	branch = i.resolveBranch(ctx, host, owner, repoName, branch)

	i.progress(fmt.Sprintf("Creating temporary mirror of %s", repoName), 10)
	mirror := fmt.Sprintf("temp-%s-%d-%s", repoName, i.now().UnixMilli(), i.randSuffix(6))
	if err := host.CreateRepo(ctx, mirror, true, false); err != nil {
		// Nothing to compensate: the mirror was never created.
		return i.fail(ctx, opID, "", "", err)
	}

	record := MirrorRecord{
		SourceRepo:  repoName,
		MirrorRepo:  mirror,
		Owner:       owner,
		Branch:      branch,
		CreatedAt:   i.monotonicNow(),
		AuthMethod:  settings.AuthMethod,
		OperationID: opID,
	}
	if err := i.store.Append(record); err != nil {
		return i.fail(ctx, opID, owner, mirror, fmt.Errorf("persist mirror record: %w", err))
	}

	i.progress("Copying repository contents", 30)
	if err := i.copyContents(ctx, host, owner, repoName, mirror, branch); err != nil {
		return i.fail(ctx, opID, owner, mirror, err)
	}

	i.progress("Making the mirror public", 70)
	if err := host.SetRepoVisibility(ctx, owner, mirror, false); err != nil {
		return i.fail(ctx, opID, owner, mirror, err)
	}

	i.progress("Opening in the editor", 90)
	url := fmt.Sprintf("https://%s/~/%s/%s/%s", settings.ToolHost, settings.HostingHost, owner, mirror)
	if i.tabs != nil {
		if err := i.tabs.OpenTab(url, true); err != nil {
			i.logger.Warn("failed to open editor tab", zap.String("url", url), zap.Error(err))
		}
	}

	i.ledger.CompleteOperation(opID)
	i.broadcast(UploadStatus{Status: StatusSuccess, Message: fmt.Sprintf("Repository %s imported", repoName), Progress: 100})
	if i.scheduler != nil {
		i.scheduler.Start()
	}
	i.logger.Info("import completed",
		zap.String("operationId", opID),
		zap.String("sourceRepo", repoName),
		zap.String("mirrorRepo", mirror),
		zap.String("branch", branch))
	return nil
}

// resolveBranch is best-effort: any listing failure falls back to main rather
// than failing the workflow.
func (i *Importer) resolveBranch(ctx context.Context, host githost.HostClient, owner, repo, requested string) string {
	if requested = strings.TrimSpace(requested); requested != "" {
		return requested
	}
	branches, err := host.ListBranches(ctx, owner, repo)
	if err != nil {
		i.logger.Warn("branch detection failed, falling back to main", zap.String("repo", repo), zap.Error(err))
		return "main"
	}
	named := map[string]bool{}
	for _, b := range branches {
		if b.Default {
			return b.Name
		}
		named[b.Name] = true
	}
	if named["main"] {
		return "main"
	}
	if named["master"] {
		return "master"
	}
	return "main"
}

func (i *Importer) copyContents(ctx context.Context, host githost.HostClient, owner, source, mirror, branch string) error {
	entries, err := host.ListContents(ctx, owner, source, "", branch)
	if err != nil {
		return fmt.Errorf("list source contents: %w", err)
	}
	files := make([]githost.Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Type == "file" {
			files = append(files, entry)
		}
	}
	total := len(files)
	done := 0
	for start := 0; start < total; start += i.batchSize {
		end := start + i.batchSize
		if end > total {
			end = total
		}
		var wg sync.WaitGroup
		for _, file := range files[start:end] {
			wg.Add(1)
			go func(file githost.Entry) {
				defer wg.Done()
				// One bad file does not abort the batch or the workflow.
				content, err := host.GetFileContent(ctx, owner, source, file.Path, branch)
				if err != nil {
					i.logger.Warn("skipping file: read failed", zap.String("path", file.Path), zap.Error(err))
					return
				}
				if err := host.PutFile(ctx, owner, mirror, file.Path, branch, "Mirror "+file.Path, content); err != nil {
					i.logger.Warn("skipping file: write failed", zap.String("path", file.Path), zap.Error(err))
				}
			}(file)
		}
		wg.Wait()
		done = end
		i.progress(fmt.Sprintf("Copying repository contents (%d/%d)", done, total), copyProgress(done, total))
	}
	return nil
}

// copyProgress maps copy completion into the caller-visible [30,70] range.
func copyProgress(done, total int) int {
	if total <= 0 {
		return 70
	}
	p := 30 + (40*done)/total
	if p > 70 {
		p = 70
	}
	return p
}

func (i *Importer) fail(ctx context.Context, opID, owner, mirror string, err error) error {
	if mirror != "" {
		// One best-effort compensation delete; its failure never masks the
		// primary error.
		if delErr := i.registry.Host().DeleteRepo(ctx, owner, mirror); delErr != nil {
			i.logger.Warn("compensation delete failed, mirror left for cleanup",
				zap.String("mirrorRepo", mirror), zap.Error(delErr))
		} else {
			i.removeRecord(mirror)
		}
	}
	i.ledger.FailOperation(opID, err)
	i.broadcast(UploadStatus{Status: StatusError, Message: githost.UserMessage(err), Progress: 100})
	i.logger.Warn("import failed", zap.String("operationId", opID), zap.Error(err))
	return err
}

// removeRecord drops the record for a mirror the compensation delete already
// reclaimed, so the cleanup scheduler does not chase a repository that no
// longer exists.
func (i *Importer) removeRecord(mirror string) {
	records, ok, err := i.store.Records()
	if err != nil || !ok {
		return
	}
	survivors := records[:0]
	for _, rec := range records {
		if rec.MirrorRepo != mirror {
			survivors = append(survivors, rec)
		}
	}
	if len(survivors) == len(records) {
		return
	}
	if err := i.store.Replace(append([]MirrorRecord(nil), survivors...)); err != nil {
		i.logger.Warn("failed to drop compensated mirror record", zap.String("mirrorRepo", mirror), zap.Error(err))
	}
}

func (i *Importer) progress(message string, progress int) {
	i.broadcast(UploadStatus{Status: StatusUploading, Message: message, Progress: progress})
}

func (i *Importer) broadcast(status UploadStatus) {
	if i.broadcaster != nil {
		i.broadcaster.Broadcast(status)
	}
}

func (i *Importer) monotonicNow() time.Time {
	i.clockMu.Lock()
	defer i.clockMu.Unlock()
	now := i.now()
	if now.Before(i.lastIssued) {
		now = i.lastIssued
	}
	i.lastIssued = now
	return now
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(n int) string {
	b := make([]byte, n)
	for idx := range b {
		b[idx] = suffixAlphabet[rand.Intn(len(suffixAlphabet))]
	}
	return string(b)
}

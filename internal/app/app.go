package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/user"

	"lvm-go/internal/archive"
	"lvm-go/internal/config"
	"lvm-go/internal/coord"
	"lvm-go/internal/encryption"
	"lvm-go/internal/fs"
	"lvm-go/internal/ledger"
	"lvm-go/internal/lvm"
	"lvm-go/internal/project"
	"lvm-go/internal/registry"
	"lvm-go/internal/staging"
	"lvm-go/internal/watch"
)

// Options identify the command an LVMApp is built for.
type Options struct {
	Command string
	Args    []string

	// ProjectPath is a project file or a directory holding one. Commands that
	// work without a project (discover) leave it empty.
	ProjectPath string

	// Stderr receives a copy of every log line. Nil logs to the file only.
	Stderr io.Writer

	Elevator lvm.Elevator
	Timecode lvm.TimecodeReader
}

// LVMApp is the application layer between the CLI and LVMService.
// It constructs all dependencies from config and the project file, scans
// sources before the commands that read the registry, and archives the ledger
// on Close after a mutating command.
type LVMApp struct {
	cfg       *config.Config
	project   *project.Project
	projectID string
	sources   []*lvm.Source
	ledger    *ledger.SQLiteLedger
	archive   lvm.Archive
	encryptor lvm.Encryptor
	service   *lvm.LVMService
	logger    lvm.Logger
	logCloser io.Closer
	op        *Operation
	clock     lvm.Clock
}

// NewLVMApp creates a fully wired LVMApp. The caller must call Close when done.
func NewLVMApp(ctx context.Context, cfg *config.Config, opts Options) (*LVMApp, error) {
	clock := lvm.RealClock{}
	op := NewOperation(opts.Command, opts.Args, clock.Now())

	slogger, logCloser, err := newLogger(cfg.Log, op.ID, opts.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	a := &LVMApp{cfg: cfg, logger: logger, logCloser: logCloser, op: op, clock: clock}

	var resolver lvm.PathResolver
	ledgerCfg := cfg.Ledger
	if opts.ProjectPath != "" {
		p, err := project.Load(opts.ProjectPath)
		if err != nil {
			logCloser.Close()
			return nil, fmt.Errorf("loading project: %w", err)
		}
		sources, r, err := p.BuildSources()
		if err != nil {
			logCloser.Close()
			return nil, fmt.Errorf("building sources: %w", err)
		}
		a.project = p
		a.projectID = ProjectKey(p)
		a.sources = sources
		resolver = r
	} else {
		ledgerCfg = config.LedgerConfig{Type: "memory"}
	}

	l, err := ledger.NewLedgerFromConfig(ledgerCfg, a.projectID)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	a.ledger = l

	if a.project != nil {
		if err := a.openArchive(ctx); err != nil {
			a.closeQuietly()
			return nil, err
		}
	}

	fsmgr := fs.NewOSFilesystemManager()
	idgen := lvm.UUIDGenerator{}
	svc, err := lvm.NewLVMService(a.sources, lvm.Deps{
		Registry: registry.New(),
		Ledger:   l,
		Coordinator: coord.New(
			coord.WithWaitTimeout(cfg.Promote.LockWait.Duration),
			coord.WithLockDir(cfg.Promote.LockDir),
			coord.WithLogger(logger),
		),
		Staging:    staging.NewStagingAreaFromConfig(cfg.Promote, fsmgr, idgen, logger),
		Filesystem: fsmgr,
		Resolver:   resolver,
		Timecode:   opts.Timecode,
		Elevator:   opts.Elevator,
		Logger:     logger,
		Clock:      clock,
		IDGen:      idgen,
	})
	if err != nil {
		a.closeQuietly()
		return nil, fmt.Errorf("creating service: %w", err)
	}
	a.service = svc

	logger.Debug("operation started", "command", op.Command, "args", op.Args, "project", a.projectID)
	return a, nil
}

// openArchive builds the archive and encryptor and refuses a local ledger
// that is behind the archived copy.
func (a *LVMApp) openArchive(ctx context.Context) error {
	arch, err := archive.NewArchiveFromConfig(ctx, a.cfg.Archive)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	if arch == nil {
		return nil
	}
	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	remote, err := arch.Version(a.projectID, LedgerItem)
	if err != nil {
		return fmt.Errorf("checking archived ledger version: %w", err)
	}
	local, err := a.ledger.MaxSeq(ctx)
	if err != nil {
		return fmt.Errorf("checking local ledger version: %w", err)
	}
	if remote > local {
		return fmt.Errorf("local ledger is behind the archive (local=%d, archive=%d): run 'lvm ledger restore'", local, remote)
	}

	a.archive = arch
	a.encryptor = enc
	return nil
}

// ProjectKey is the id a project's ledger and archive items are stored under.
func ProjectKey(p *project.Project) string {
	if p.ID != "" {
		return p.ID
	}
	return p.Name
}

// Project returns the loaded project, or nil.
func (a *LVMApp) Project() *project.Project { return a.project }

// Sources returns the project's sources in project order.
func (a *LVMApp) Sources() []*lvm.Source { return a.sources }

// Operation returns the bookkeeping record of this invocation.
func (a *LVMApp) Operation() *Operation { return a.op }

// Fail marks the operation as failed, for the log and the archive upload.
func (a *LVMApp) Fail(err error) {
	a.op.Fail()
	a.logger.Error("operation failed", "command", a.op.Command, "error", err)
}

// Scan rescans one source, or every source when sourceID is empty.
func (a *LVMApp) Scan(ctx context.Context, sourceID string) ([]*lvm.ScanResult, error) {
	if sourceID == "" {
		return a.service.ScanAll(ctx)
	}
	r, err := a.service.Scan(ctx, sourceID, "")
	if err != nil {
		return nil, err
	}
	return []*lvm.ScanResult{r}, nil
}

// Status scans every source and reports latest against promoted versions.
// Sources that could not be scanned are still listed.
func (a *LVMApp) Status(ctx context.Context) ([]*lvm.SourceStatus, error) {
	if _, err := a.service.ScanAll(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		a.logger.Warn("scan incomplete", "error", err)
	}
	return a.service.Status(ctx)
}

// Promote scans the source and promotes one version of it.
func (a *LVMApp) Promote(ctx context.Context, sourceID, token string, opts lvm.PromoteOptions) (*lvm.PromotionResult, error) {
	if _, err := a.service.Scan(ctx, sourceID, ""); err != nil {
		return nil, err
	}
	opts.Actor = a.actor(opts.Actor)
	if !opts.DryRun {
		a.op.MarkMutating()
	}
	return a.service.Promote(ctx, sourceID, token, opts)
}

// PromoteAll scans and promotes every source's highest version. A source that
// cannot be scanned is reported as failed rather than as having no versions.
func (a *LVMApp) PromoteAll(ctx context.Context, opts lvm.PromoteOptions) *lvm.BatchResult {
	scanErrs := make(map[string]error)
	for _, src := range a.sources {
		if _, err := a.service.Scan(ctx, src.ID, ""); err != nil {
			scanErrs[src.ID] = err
		}
	}

	opts.Actor = a.actor(opts.Actor)
	if !opts.DryRun {
		a.op.MarkMutating()
	}
	batch := a.service.PromoteAll(ctx, opts)
	for i, o := range batch.Outcomes {
		if err, ok := scanErrs[o.SourceID]; ok && o.Status == lvm.BatchNoVersions {
			batch.Outcomes[i].Status = lvm.BatchFailed
			batch.Outcomes[i].Err = err
		}
	}
	return batch
}

// History returns the ledger records of a source.
func (a *LVMApp) History(ctx context.Context, sourceID string) (iter.Seq2[*lvm.PromotionRecord, error], error) {
	return a.service.History(ctx, sourceID)
}

// Verify checks one source's target, or every target when sourceID is empty.
// Sources are scanned first so a rewritten promoted version is reported.
func (a *LVMApp) Verify(ctx context.Context, sourceID string) ([]*lvm.VerificationReport, error) {
	if sourceID != "" {
		if _, err := a.service.Scan(ctx, sourceID, ""); err != nil {
			a.logger.Warn("scan before verify failed", "source", sourceID, "error", err)
		}
		r, err := a.service.Verify(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		if !r.OK() {
			return []*lvm.VerificationReport{r}, fmt.Errorf("source %s: %w", sourceID, lvm.ErrVerificationMismatch)
		}
		return []*lvm.VerificationReport{r}, nil
	}

	if _, err := a.service.ScanAll(ctx); err != nil {
		a.logger.Warn("scan before verify incomplete", "error", err)
	}
	return a.service.VerifyAll(ctx)
}

// Discover reports directories below root that look like sources.
func (a *LVMApp) Discover(ctx context.Context, root string, opts lvm.DiscoverOptions) ([]*lvm.DiscoveryResult, error) {
	return a.service.Discover(ctx, root, opts)
}

// Watch scans every source, then keeps the registry live until ctx ends,
// handing each change to onChange.
func (a *LVMApp) Watch(ctx context.Context, onChange func(watch.ChangeEvent)) error {
	if _, err := a.service.ScanAll(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.logger.Warn("initial scan incomplete", "error", err)
	}

	interval := a.cfg.Watch.PollInterval.Duration
	if interval <= 0 {
		interval = watch.DefaultPollInterval
	}
	backend, err := watch.NewBackend(a.cfg.Watch.Backend, interval)
	if err != nil {
		return fmt.Errorf("creating watch backend: %w", err)
	}
	a.logger.Info("watching", "sources", len(a.sources), "backend", backend.Name())

	w := watch.New(a.service, a.sources, backend,
		watch.WithDebounce(a.cfg.Watch.Debounce.Duration),
		watch.WithFallback(watch.NewPollBackend(interval)),
		watch.WithLogger(a.logger),
		watch.WithClock(a.clock),
	)
	events, unsubscribe := w.Subscribe(0)
	defer unsubscribe()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for ev := range events {
		onChange(ev)
	}
	err = <-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// actor is the explicit actor, then the configured one, then the login name.
func (a *LVMApp) actor(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if a.cfg.Actor != "" {
		return a.cfg.Actor
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// Close archives the ledger after a mutating command and releases every
// resource. The first error is returned.
func (a *LVMApp) Close() error {
	var firstErr error
	if a.op.Mutating && a.archive != nil {
		if err := a.archiveLedger(context.Background()); err != nil {
			firstErr = err
			a.logger.Error("archiving ledger", "error", err)
		}
	}
	a.logger.Debug("operation finished", "command", a.op.Command, "status", a.op.Status)

	if err := a.ledger.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing ledger: %w", err)
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}

func (a *LVMApp) closeQuietly() {
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"packforge/internal/blob"
	"packforge/pkg/domain"
)

// DefaultLockTimeout bounds how long a build waits for its output root.
const DefaultLockTimeout = 30 * time.Second

// ArchivePrefix is the blob key prefix for published archives.
const ArchivePrefix = "archives/"

// EventPublisher is notified after each committed build.
type EventPublisher interface {
	PublishBuildCommitted(ctx context.Context, summary domain.BuildSummary) error
}

// RenderFunc renders a profile into a document set.
type RenderFunc func(domain.Profile, RenderOptions) (domain.DocumentSet, error)

// ParityRejectedError is returned under strict parity when the final report
// is not clean. Nothing was committed.
type ParityRejectedError struct {
	Result BuildResult
}

func (e *ParityRejectedError) Error() string {
	r := e.Result.Report
	return fmt.Sprintf("%s: %d integrity errors, %d parity deltas", domain.ErrParityRejected, len(r.Errors), len(r.Deltas))
}

// Is reports domain.ErrParityRejected equivalence.
func (e *ParityRejectedError) Is(target error) bool { return target == domain.ErrParityRejected }

// BuildRequest is one build invocation. Parity must be set explicitly.
type BuildRequest struct {
	Profile       domain.Profile
	OutputRoot    string
	Overlays      *domain.OverlayConfig
	Parity        domain.ParityMode
	Deterministic bool
	// LockTimeout overrides the service default when positive.
	LockTimeout time.Duration
}

// BuildResult is the structured outcome of Build.
type BuildResult struct {
	Summary    domain.BuildSummary    `json:"summary"`
	Report     domain.IntegrityReport `json:"report"`
	FileCount  int                    `json:"file_count"`
	Committed  bool                   `json:"committed"`
	ArchiveKey string                 `json:"archive_key,omitempty"`
}

// Service runs the render, validate, overlay, commit and record pipeline
// under a per-root lease.
type Service struct {
	render      RenderFunc
	validator   *Validator
	locks       *LockManager
	packager    *Packager
	recorder    *Recorder
	blobs       blob.Store
	publisher   EventPublisher
	logger      *slog.Logger
	metrics     MetricsRecorder
	tracer      Tracer
	clock       Clock
	lockTimeout time.Duration
	newID       func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock sets the clock used by non-deterministic builds.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithBlobStore enables archive publication.
func WithBlobStore(b blob.Store) Option {
	return func(s *Service) { s.blobs = b }
}

// WithPublisher enables build-committed events.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithSummaryStore persists recorded summaries.
func WithSummaryStore(store domain.SummaryStore) Option {
	return func(s *Service) { s.recorder = NewRecorder(store) }
}

// WithLockManager shares a lock manager between services.
func WithLockManager(m *LockManager) Option {
	return func(s *Service) {
		if m != nil {
			s.locks = m
		}
	}
}

// WithLockTimeout sets the default lock wait.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Service) { s.lockTimeout = d }
}

// WithValidator replaces the default validator.
func WithValidator(v *Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

// WithRenderer replaces Render.
func WithRenderer(fn RenderFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.render = fn
		}
	}
}

// NewService constructs a service with defaults for every collaborator.
func NewService(opts ...Option) *Service {
	s := &Service{
		render:      Render,
		validator:   NewDefaultValidator(),
		locks:       NewLockManager(),
		packager:    NewPackager(),
		recorder:    NewRecorder(nil),
		logger:      slog.Default(),
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
		clock:       systemClock{},
		lockTimeout: DefaultLockTimeout,
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Recorder exposes the last-build recorder.
func (s *Service) Recorder() *Recorder { return s.recorder }

// Hydrate loads persisted summaries into the recorder.
func (s *Service) Hydrate(ctx context.Context) error {
	n, err := s.recorder.Load(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("hydrated last-build summaries", slog.Int("count", n))
	return nil
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// Build runs the full pipeline for req. Input errors return before any lock
// or file I/O. A rolled-back overlay pass is not an error: the base build is
// committed and the summary records the rollback.
func (s *Service) Build(ctx context.Context, req BuildRequest) (res BuildResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "build")
	defer func() {
		span.End(err)
		s.observe(ctx, "build", start, err)
	}()

	mode, err := domain.ParseParityMode(string(req.Parity))
	if err != nil {
		return BuildResult{}, err
	}
	if strings.TrimSpace(req.OutputRoot) == "" {
		return BuildResult{}, fmt.Errorf("%w: output root required", domain.ErrInvalidRequest)
	}
	if err := req.Profile.Validate(); err != nil {
		return BuildResult{}, &RenderError{Err: err}
	}

	timeout := s.lockTimeout
	if req.LockTimeout > 0 {
		timeout = req.LockTimeout
	}
	lease, err := s.locks.Acquire(ctx, req.OutputRoot, timeout)
	if err != nil {
		s.logger.Warn("build lock unavailable", slog.String("root", req.OutputRoot), slog.String("error", err.Error()))
		return BuildResult{}, err
	}
	defer lease.Release()

	log := s.logger.With(slog.String("root", lease.Root()), slog.String("slug", req.Profile.Slug), slog.String("parity", string(mode)))

	ts := domain.DeterministicEpoch
	if !req.Deterministic {
		ts = s.clock.Now().UTC().Truncate(time.Second)
	}

	renderStart := time.Now()
	set, err := s.render(req.Profile, RenderOptions{Timestamp: ts})
	s.observe(ctx, "render", renderStart, err)
	if err != nil {
		return BuildResult{}, err
	}
	report := s.validator.Validate(ctx, set)

	var overlay *domain.OverlaySummary
	if req.Overlays != nil {
		ovStart := time.Now()
		patched, summary, ovErr := ApplyOverlays(ctx, set, *req.Overlays, s.validator)
		s.observe(ctx, "overlay", ovStart, ovErr)
		if ovErr != nil {
			log.Warn("overlays rolled back", slog.String("reason", ovErr.Error()))
		} else {
			set = patched
			report = s.validator.Validate(ctx, set)
		}
		overlay = &summary
		log.Info("overlays evaluated", slog.Int("applied", summary.Applied()), slog.Bool("rolled_back", summary.RolledBack))
	}

	packFiles, err := EncodeDocumentSet(set)
	if err != nil {
		return BuildResult{}, err
	}
	contentHash := ContentHash(packFiles)

	id := "build-" + contentHash[:16]
	if !req.Deterministic {
		id = "build-" + s.newID()
	}
	summary := domain.BuildSummary{
		BuildID:       id,
		OutputRoot:    lease.Root(),
		OutputDir:     filepath.Join(lease.Root(), id),
		ProfileSlug:   req.Profile.Slug,
		ParityMode:    mode,
		Deterministic: req.Deterministic,
		Timestamp:     ts,
		Files:         writtenFiles(packFiles),
		Parity:        report.Parity,
		Deltas:        report.Deltas,
		Errors:        report.ErrorStrings(),
		Warnings:      report.WarningStrings(),
		ContentHash:   contentHash,
		Overlay:       overlay,
	}
	res = BuildResult{Summary: summary, Report: report, FileCount: len(summary.Files)}

	if mode == domain.ParityStrict && !report.Clean() {
		log.Warn("build rejected under strict parity", slog.Int("errors", len(report.Errors)), slog.Int("deltas", len(report.Deltas)))
		return res, &ParityRejectedError{Result: res}
	}

	files, err := s.buildFiles(packFiles, report, summary)
	if err != nil {
		return res, err
	}
	commitStart := time.Now()
	committed, err := s.packager.Commit(ctx, files, lease.Root(), id)
	s.observe(ctx, "commit", commitStart, err)
	if err != nil {
		log.Error("commit failed", slog.String("error", err.Error()))
		return res, err
	}
	if committed.ContentHash != contentHash {
		return res, &CommitError{Stage: "verify", Path: committed.Dir, Err: fmt.Errorf("on-disk hash %s does not match rendered hash %s", committed.ContentHash, contentHash)}
	}
	res.Committed = true

	if err := s.recorder.Record(ctx, summary); err != nil {
		log.Warn("summary not persisted", slog.String("error", err.Error()))
	}
	res.ArchiveKey = s.publishArchive(ctx, log, lease.Root(), id, contentHash)
	if s.publisher != nil {
		if err := s.publisher.PublishBuildCommitted(ctx, summary); err != nil {
			log.Warn("build event not published", slog.String("error", err.Error()))
		}
	}
	log.Info("build committed",
		slog.String("dir", committed.Dir),
		slog.String("content_hash", contentHash),
		slog.Int("files", len(committed.Files)),
		slog.Duration("lock_held", lease.Held()))
	return res, nil
}

func (s *Service) buildFiles(pack []File, report domain.IntegrityReport, summary domain.BuildSummary) ([]File, error) {
	reportBytes, err := MarshalStable(report)
	if err != nil {
		return nil, fmt.Errorf("encode integrity report: %w", err)
	}
	summaryBytes, err := MarshalStable(summary)
	if err != nil {
		return nil, fmt.Errorf("encode build summary: %w", err)
	}
	files := append([]File(nil), pack...)
	files = append(files,
		File{Name: IntegrityReportFile, Content: reportBytes},
		File{Name: BuildSummaryFile, Content: summaryBytes},
	)
	return files, nil
}

func (s *Service) publishArchive(ctx context.Context, log *slog.Logger, root, dir, hash string) string {
	if s.blobs == nil {
		return ""
	}
	key := ArchivePrefix + hash + ".zip"
	if _, err := s.blobs.Head(ctx, key); err == nil {
		return key
	} else if !errors.Is(err, blob.ErrNotFound) {
		log.Warn("archive lookup failed", slog.String("key", key), slog.String("error", err.Error()))
		return ""
	}
	archive, err := s.packager.Archive(root, dir)
	if err != nil {
		log.Warn("archive not built", slog.String("error", err.Error()))
		return ""
	}
	_, err = s.blobs.Put(ctx, key, bytes.NewReader(archive.Data), blob.PutOptions{
		ContentType: "application/zip",
		Metadata:    map[string]string{"content_hash": hash, "build_dir": dir},
	})
	if err != nil && !errors.Is(err, blob.ErrExists) {
		log.Warn("archive not published", slog.String("key", key), slog.String("error", err.Error()))
		return ""
	}
	return key
}

// LastBuild returns the latest committed summary for root without touching
// the build lock.
func (s *Service) LastBuild(root string) (domain.BuildSummary, bool) {
	return s.recorder.Read(root)
}

// PackageArchive zips a committed build directory. An empty dir addresses the
// last recorded build for root; otherwise dir names a build directory under
// root. Both forms yield the same content hash for the same build.
func (s *Service) PackageArchive(ctx context.Context, root, dir string) (res ArchiveResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "archive")
	defer func() {
		span.End(err)
		s.observe(ctx, "archive", start, err)
	}()

	if strings.TrimSpace(root) == "" {
		return ArchiveResult{}, fmt.Errorf("%w: output root required", domain.ErrInvalidRequest)
	}
	last, hasLast := s.recorder.Read(root)
	name, err := resolveBuildDir(lockKey(root), dir, last, hasLast)
	if err != nil {
		return ArchiveResult{}, err
	}

	lease, err := s.locks.Acquire(ctx, root, s.lockTimeout)
	if err != nil {
		return ArchiveResult{}, err
	}
	defer lease.Release()

	if err := checkCommittedBuild(lease.Root(), name); err != nil {
		return ArchiveResult{}, err
	}
	res, err = s.packager.Archive(lease.Root(), name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ArchiveResult{}, fmt.Errorf("%w: %s", domain.ErrBuildNotFound, name)
		}
		return ArchiveResult{}, err
	}
	if hasLast && last.BuildID == name && last.ContentHash != res.ContentHash {
		return ArchiveResult{}, fmt.Errorf("archive hash %s does not match recorded hash %s", res.ContentHash, last.ContentHash)
	}
	return res, nil
}

// ArchiveURL returns a time-limited download URL for the published archive of
// the last build under root.
func (s *Service) ArchiveURL(ctx context.Context, root string, expiry time.Duration) (string, error) {
	if s.blobs == nil {
		return "", blob.ErrUnsupported
	}
	last, ok := s.recorder.Read(root)
	if !ok {
		return "", fmt.Errorf("%w: no build recorded for %s", domain.ErrBuildNotFound, root)
	}
	key := ArchivePrefix + last.ContentHash + ".zip"
	if _, err := s.blobs.Head(ctx, key); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return "", fmt.Errorf("%w: archive %s not published", domain.ErrBuildNotFound, key)
		}
		return "", err
	}
	return s.blobs.PresignURL(ctx, key, expiry)
}

func resolveBuildDir(root, dir string, last domain.BuildSummary, hasLast bool) (string, error) {
	if strings.TrimSpace(dir) == "" {
		if !hasLast {
			return "", fmt.Errorf("%w: no build recorded for %s", domain.ErrBuildNotFound, root)
		}
		return filepath.Base(last.OutputDir), nil
	}
	if filepath.IsAbs(dir) || strings.ContainsAny(dir, `/\`) {
		abs := lockKey(dir)
		if filepath.Dir(abs) != root {
			return "", fmt.Errorf("%w: %s is not a build under %s", domain.ErrInvalidRequest, dir, root)
		}
		dir = filepath.Base(abs)
	}
	if err := validDirName(dir); err != nil || strings.HasPrefix(dir, ".") {
		return "", fmt.Errorf("%w: build dir %q", domain.ErrInvalidRequest, dir)
	}
	return dir, nil
}

// checkCommittedBuild accepts only directories the packager committed: the
// build summary inside must parse and name the directory as its build id.
func checkCommittedBuild(root, name string) error {
	data, err := os.ReadFile(filepath.Join(root, name, BuildSummaryFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrBuildNotFound, name)
		}
		return fmt.Errorf("read build summary: %w", err)
	}
	var summary domain.BuildSummary
	if err := json.Unmarshal(data, &summary); err != nil || summary.BuildID != name {
		return fmt.Errorf("%w: %s is not a committed build", domain.ErrBuildNotFound, name)
	}
	return nil
}

// writtenFiles lists every file a committed build directory holds.
func writtenFiles(pack []File) []string {
	out := make([]string, 0, len(pack)+2)
	for _, f := range pack {
		out = append(out, f.Name)
	}
	out = append(out, IntegrityReportFile, BuildSummaryFile)
	sort.Strings(out)
	return out
}

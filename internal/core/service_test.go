package core

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"packforge/internal/blob"
	"packforge/pkg/domain"
)

type capturePublisher struct {
	mu        sync.Mutex
	summaries []domain.BuildSummary
}

func (c *capturePublisher) PublishBuildCommitted(_ context.Context, s domain.BuildSummary) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.summaries = append(c.summaries, s)
	return nil
}

func deterministicRequest(root string, mode domain.ParityMode) BuildRequest {
	return BuildRequest{Profile: sampleProfile(), OutputRoot: root, Parity: mode, Deterministic: true}
}

func TestBuildDeterministicEndToEnd(t *testing.T) {
	root := t.TempDir()
	svc := NewService()
	first, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	firstSummary, err := os.ReadFile(filepath.Join(first.Summary.OutputDir, BuildSummaryFile))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	firstArchive, err := svc.PackageArchive(context.Background(), root, "")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	second, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	secondSummary, _ := os.ReadFile(filepath.Join(second.Summary.OutputDir, BuildSummaryFile))
	secondArchive, err := svc.PackageArchive(context.Background(), root, "")
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	if first.Summary.ContentHash != second.Summary.ContentHash || first.Summary.OutputDir != second.Summary.OutputDir {
		t.Fatalf("deterministic builds diverged: %s vs %s", first.Summary.OutputDir, second.Summary.OutputDir)
	}
	if !bytes.Equal(firstSummary, secondSummary) {
		t.Fatalf("build summaries differ between deterministic builds")
	}
	if !bytes.Equal(firstArchive.Data, secondArchive.Data) {
		t.Fatalf("archives differ between deterministic builds")
	}
	if !first.Committed || first.FileCount != domain.PackCount+2 {
		t.Fatalf("unexpected result %+v", first)
	}
	if !first.Summary.Timestamp.Equal(domain.DeterministicEpoch) {
		t.Fatalf("timestamp not pinned: %s", first.Summary.Timestamp)
	}
	entries, _ := os.ReadDir(first.Summary.OutputDir)
	if len(entries) != domain.PackCount+2 {
		t.Fatalf("expected %d files in build dir, got %d", domain.PackCount+2, len(entries))
	}
}

func TestBuildStrictRejectsParityDrift(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	svc := NewService(WithRenderer(driftedRenderer(t)))
	res, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	var rejected *ParityRejectedError
	if !errors.As(err, &rejected) || !errors.Is(err, domain.ErrParityRejected) {
		t.Fatalf("expected ParityRejectedError, got %v", err)
	}
	if res.Committed || res.Summary.Parity[operatingRulesRelation] {
		t.Fatalf("unexpected result %+v", res.Summary)
	}
	if len(res.Summary.Deltas) != 1 || res.Summary.Deltas[0].Got != 0.94 || res.Summary.Deltas[0].Expected != 0.95 {
		t.Fatalf("unexpected deltas %+v", res.Summary.Deltas)
	}
	if _, ok := svc.LastBuild(root); ok {
		t.Fatalf("rejected build must not be recorded")
	}
	if _, err := os.Stat(root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("rejected build must not touch the output root")
	}
}

func TestBuildLenientCommitsWithDeltas(t *testing.T) {
	root := t.TempDir()
	svc := NewService(WithRenderer(driftedRenderer(t)))
	res, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityLenient))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !res.Committed || len(res.Summary.Deltas) == 0 || len(res.Summary.Warnings) == 0 {
		t.Fatalf("expected committed build with deltas and warnings, got %+v", res.Summary)
	}
	if res.Summary.Parity[operatingRulesRelation] {
		t.Fatalf("expected false parity for %s", operatingRulesRelation)
	}
	last, ok := svc.LastBuild(root)
	if !ok || last.ContentHash != res.Summary.ContentHash {
		t.Fatalf("last build not recorded")
	}
}

func TestBuildRequiresParityMode(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	_, err := NewService().Build(context.Background(), BuildRequest{Profile: sampleProfile(), OutputRoot: root})
	if !errors.Is(err, domain.ErrParityModeRequired) {
		t.Fatalf("expected ErrParityModeRequired, got %v", err)
	}
	if _, err := os.Stat(root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("nothing should be written")
	}
}

func TestBuildInvalidProfileWritesNothing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	req := deterministicRequest(root, domain.ParityLenient)
	req.Profile.AgentName = ""
	_, err := NewService().Build(context.Background(), req)
	if !errors.Is(err, domain.ErrInvalidProfile) {
		t.Fatalf("expected ErrInvalidProfile, got %v", err)
	}
	if _, err := os.Stat(root); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("nothing should be written")
	}
}

func TestBuildRejectsNonFiniteTargetsBeforeLocking(t *testing.T) {
	cases := map[string]func(*domain.Profile){
		"nan ratio":      func(p *domain.Profile) { p.Governance.PRIMin = domain.Float(math.NaN()) },
		"inf kpi target": func(p *domain.Profile) { p.KPIs[0].Target = math.Inf(1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			for _, mode := range []domain.ParityMode{domain.ParityStrict, domain.ParityLenient} {
				root := filepath.Join(t.TempDir(), "out")
				req := deterministicRequest(root, mode)
				mutate(&req.Profile)
				_, err := NewService().Build(context.Background(), req)
				if !errors.Is(err, domain.ErrInvalidProfile) {
					t.Fatalf("%s: expected ErrInvalidProfile, got %v", mode, err)
				}
				if _, err := os.Stat(root); !errors.Is(err, os.ErrNotExist) {
					t.Fatalf("%s: nothing should be written", mode)
				}
			}
		})
	}
}

func TestPackageArchiveAddressingModesAgree(t *testing.T) {
	root := t.TempDir()
	svc := NewService()
	res, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	byDefault, err := svc.PackageArchive(context.Background(), root, "")
	if err != nil {
		t.Fatalf("default archive: %v", err)
	}
	byName, err := svc.PackageArchive(context.Background(), root, res.Summary.BuildID)
	if err != nil {
		t.Fatalf("explicit archive: %v", err)
	}
	byPath, err := svc.PackageArchive(context.Background(), root, res.Summary.OutputDir)
	if err != nil {
		t.Fatalf("explicit path archive: %v", err)
	}
	if byDefault.ContentHash != byName.ContentHash || byName.ContentHash != byPath.ContentHash {
		t.Fatalf("addressing modes disagree: %s %s %s", byDefault.ContentHash, byName.ContentHash, byPath.ContentHash)
	}
	if byDefault.ContentHash != res.Summary.ContentHash {
		t.Fatalf("archive hash %s != committed hash %s", byDefault.ContentHash, res.Summary.ContentHash)
	}
}

func TestPackageArchiveErrors(t *testing.T) {
	root := t.TempDir()
	svc := NewService()
	if _, err := svc.PackageArchive(context.Background(), root, ""); !errors.Is(err, domain.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound without a build, got %v", err)
	}
	if _, err := svc.PackageArchive(context.Background(), root, "build-missing"); !errors.Is(err, domain.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound for unknown dir, got %v", err)
	}
	if _, err := svc.PackageArchive(context.Background(), root, "/etc/passwd"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for a foreign path, got %v", err)
	}
	if _, err := svc.PackageArchive(context.Background(), root, ".hidden"); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for a hidden dir, got %v", err)
	}
}

func TestPackageArchiveRejectsNonBuildDirs(t *testing.T) {
	root := t.TempDir()
	svc := NewService()
	write := func(dir, name, content string) {
		t.Helper()
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(root, dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("secrets", "id_rsa", "private")
	write("build-forged", "id_rsa", "private")
	write("build-forged", BuildSummaryFile, `{"build_id":"build-other"}`)
	write("build-garbled", BuildSummaryFile, `not json`)

	for _, dir := range []string{"secrets", "build-forged", "build-garbled"} {
		res, err := svc.PackageArchive(context.Background(), root, dir)
		if !errors.Is(err, domain.ErrBuildNotFound) {
			t.Fatalf("%s: expected ErrBuildNotFound, got %v (%d bytes archived)", dir, err, len(res.Data))
		}
	}

	built, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := svc.PackageArchive(context.Background(), root, built.Summary.BuildID); err != nil {
		t.Fatalf("committed build should archive: %v", err)
	}
}

func TestConcurrentBuildsSerializeAndReportBusy(t *testing.T) {
	root := t.TempDir()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := func(p domain.Profile, opts RenderOptions) (domain.DocumentSet, error) {
		once.Do(func() {
			close(entered)
			<-release
		})
		return Render(p, opts)
	}
	svc := NewService(WithRenderer(blocking))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
		done <- err
	}()
	<-entered

	req := deterministicRequest(root, domain.ParityStrict)
	req.LockTimeout = 20 * time.Millisecond
	_, err := svc.Build(context.Background(), req)
	var busy *LockBusyError
	if !errors.As(err, &busy) || busy.RetryAfter != 5*time.Second {
		t.Fatalf("expected LockBusy with retry-after 5s, got %v", err)
	}

	// Readers are never blocked by a held build lock.
	if _, ok := svc.LastBuild(root); ok {
		t.Fatalf("no build has committed yet")
	}

	waiter := make(chan error, 1)
	go func() {
		req := deterministicRequest(root, domain.ParityStrict)
		req.LockTimeout = 5 * time.Second
		_, err := svc.Build(context.Background(), req)
		waiter <- err
	}()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first build: %v", err)
	}
	if err := <-waiter; err != nil {
		t.Fatalf("waiting build: %v", err)
	}
}

func TestBuildOverlayRollbackCommitsBase(t *testing.T) {
	root := t.TempDir()
	svc := NewService()
	base, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("base build: %v", err)
	}
	cfg := domain.OverlayConfig{
		Allowlist: []string{"dangling"},
		Overlays: []domain.OverlaySpec{{
			Name: "dangling", Version: "1", Document: domain.DocKPITargets,
			Ops: []domain.OverlayOp{{Kind: domain.OpEnsureKey, Path: "dashboard_ref", Value: "kpi_dashboard"}},
		}},
	}
	req := deterministicRequest(root, domain.ParityStrict)
	req.Overlays = &cfg
	res, err := svc.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("overlay build: %v", err)
	}
	if res.Summary.Overlay == nil || !res.Summary.Overlay.RolledBack {
		t.Fatalf("expected rolled back overlay summary, got %+v", res.Summary.Overlay)
	}
	if res.Summary.ContentHash != base.Summary.ContentHash {
		t.Fatalf("rolled back overlay changed the committed pack")
	}
}

func TestBuildOverlayAppliedChangesHash(t *testing.T) {
	root := t.TempDir()
	svc := NewService()
	cfg := additiveConfig()
	req := deterministicRequest(root, domain.ParityStrict)
	req.Overlays = &cfg
	res, err := svc.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if res.Summary.Overlay == nil || res.Summary.Overlay.Applied() != 3 {
		t.Fatalf("expected three applied overlays, got %+v", res.Summary.Overlay)
	}
	plain := ContentHash(mustEncode(t, mustRender(t, sampleProfile())))
	if res.Summary.ContentHash == plain {
		t.Fatalf("applied overlays should change the content hash")
	}
}

func TestBuildCommitFailureReleasesLockAndCleansUp(t *testing.T) {
	root := t.TempDir()
	svc := NewService()
	svc.packager.writeFile = func(string, []byte) error { return errors.New("no space left on device") }
	_, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	var cerr *CommitError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CommitError, got %v", err)
	}
	assertNoResidue(t, root)
	if _, ok := svc.LastBuild(root); ok {
		t.Fatalf("failed build must not be recorded")
	}

	svc.packager.writeFile = writeFileDurable
	req := deterministicRequest(root, domain.ParityStrict)
	req.LockTimeout = 50 * time.Millisecond
	if _, err := svc.Build(context.Background(), req); err != nil {
		t.Fatalf("lock leaked after failure: %v", err)
	}
}

func TestBuildNonDeterministicUsesClockAndUniqueDirs(t *testing.T) {
	root := t.TempDir()
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	ids := []string{"one", "two"}
	svc := NewService(WithClock(ClockFunc(func() time.Time { return fixed })))
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	req := BuildRequest{Profile: sampleProfile(), OutputRoot: root, Parity: domain.ParityLenient}
	a, err := svc.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build a: %v", err)
	}
	b, err := svc.Build(context.Background(), req)
	if err != nil {
		t.Fatalf("build b: %v", err)
	}
	if a.Summary.BuildID != "build-one" || b.Summary.BuildID != "build-two" {
		t.Fatalf("unexpected ids %s %s", a.Summary.BuildID, b.Summary.BuildID)
	}
	if !a.Summary.Timestamp.Equal(fixed) {
		t.Fatalf("expected clock timestamp, got %s", a.Summary.Timestamp)
	}
	last, _ := svc.LastBuild(root)
	if last.BuildID != "build-two" {
		t.Fatalf("last build should be the newest, got %s", last.BuildID)
	}
}

func TestBuildPublishesArchiveAndEvent(t *testing.T) {
	root := t.TempDir()
	store := blob.NewMemory()
	pub := &capturePublisher{}
	tracer := NewJSONTracer(nil)
	metrics := NewExpvarMetricsRecorder("")
	svc := NewService(WithBlobStore(store), WithPublisher(pub), WithTracer(tracer), WithMetrics(metrics))

	res, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	wantKey := ArchivePrefix + res.Summary.ContentHash + ".zip"
	if res.ArchiveKey != wantKey {
		t.Fatalf("archive key %q, want %q", res.ArchiveKey, wantKey)
	}
	info, err := store.Head(context.Background(), wantKey)
	if err != nil || info.Metadata["content_hash"] != res.Summary.ContentHash {
		t.Fatalf("archive not published: %+v %v", info, err)
	}
	again, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil || again.ArchiveKey != wantKey {
		t.Fatalf("republishing identical content should reuse the key: %v", err)
	}
	if len(pub.summaries) != 2 || pub.summaries[0].ContentHash != res.Summary.ContentHash {
		t.Fatalf("unexpected published events %+v", pub.summaries)
	}
	spans := tracer.Entries()
	if len(spans) != 2 || spans[0].Operation != "build" || spans[0].Status != "success" {
		t.Fatalf("unexpected spans %+v", spans)
	}
	stats := metrics.Snapshot()
	for _, op := range []string{"build", "render", "commit"} {
		if stats[op].Success != 2 {
			t.Fatalf("expected two successful %s observations, got %+v", op, stats[op])
		}
	}
}

func TestServiceHydratesFromSummaryStore(t *testing.T) {
	root := t.TempDir()
	store := newMapSummaryStore()
	first := NewService(WithSummaryStore(store))
	res, err := first.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	restarted := NewService(WithSummaryStore(store))
	if err := restarted.Hydrate(context.Background()); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	got, ok := restarted.LastBuild(root)
	if !ok || got.ContentHash != res.Summary.ContentHash {
		t.Fatalf("hydrated summary mismatch: %+v", got)
	}
	archive, err := restarted.PackageArchive(context.Background(), root, "")
	if err != nil || archive.ContentHash != res.Summary.ContentHash {
		t.Fatalf("archive after hydrate: %v", err)
	}
}

func TestArchiveURLForLastBuild(t *testing.T) {
	root := t.TempDir()
	if _, err := NewService().ArchiveURL(context.Background(), root, time.Minute); !errors.Is(err, blob.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported without a blob store, got %v", err)
	}
	store, err := blob.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}
	svc := NewService(WithBlobStore(store))
	if _, err := svc.ArchiveURL(context.Background(), root, time.Minute); !errors.Is(err, domain.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound before any build, got %v", err)
	}
	res, err := svc.Build(context.Background(), deterministicRequest(root, domain.ParityStrict))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	u, err := svc.ArchiveURL(context.Background(), root, time.Minute)
	if err != nil {
		t.Fatalf("archive url: %v", err)
	}
	if !strings.HasSuffix(u, res.Summary.ContentHash+".zip") {
		t.Fatalf("unexpected url %s", u)
	}
}

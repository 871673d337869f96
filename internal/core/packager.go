package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Build directory side files written next to the pack documents.
const (
	IntegrityReportFile = "integrity_report.json"
	BuildSummaryFile    = "build_summary.json"
)

const stagingMarker = ".tmp-"

// CommitError reports a failed commit. The staging directory has already
// been removed when it is returned.
type CommitError struct {
	Stage string
	Path  string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// CommitResult describes a materialized build directory.
type CommitResult struct {
	Dir         string
	DirName     string
	Files       []string
	ContentHash string
}

// Packager materializes builds with temp-then-rename and produces archives.
type Packager struct {
	writeFile func(path string, data []byte) error
	rename    func(oldpath, newpath string) error
	hashDir   func(dir string) (string, error)
	now       func() time.Time
}

// NewPackager constructs a filesystem packager.
func NewPackager() *Packager {
	return &Packager{
		writeFile: writeFileDurable,
		rename:    os.Rename,
		hashDir:   HashDir,
		now:       time.Now,
	}
}

// Commit writes files into a hidden staging directory under root and renames
// it onto root/dirName once every write and fsync succeeded. An existing
// directory of the same name is replaced. On any failure the staging
// directory is removed and the previous build, if any, is left in place.
func (p *Packager) Commit(ctx context.Context, files []File, root, dirName string) (CommitResult, error) {
	if err := validDirName(dirName); err != nil {
		return CommitResult{}, &CommitError{Stage: "prepare", Path: dirName, Err: err}
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return CommitResult{}, &CommitError{Stage: "prepare", Path: root, Err: err}
	}
	stage, err := os.MkdirTemp(root, "."+dirName+stagingMarker)
	if err != nil {
		return CommitResult{}, &CommitError{Stage: "prepare", Path: root, Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(stage)
		}
	}()
	if err := os.Chmod(stage, 0o755); err != nil {
		return CommitResult{}, &CommitError{Stage: "prepare", Path: stage, Err: err}
	}

	names := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return CommitResult{}, &CommitError{Stage: "write", Path: f.Name, Err: err}
		}
		if err := validDirName(f.Name); err != nil {
			return CommitResult{}, &CommitError{Stage: "write", Path: f.Name, Err: err}
		}
		if err := p.writeFile(filepath.Join(stage, f.Name), f.Content); err != nil {
			return CommitResult{}, &CommitError{Stage: "write", Path: f.Name, Err: err}
		}
		names = append(names, f.Name)
	}
	if err := syncDir(stage); err != nil {
		return CommitResult{}, &CommitError{Stage: "sync", Path: stage, Err: err}
	}
	hash, err := p.hashDir(stage)
	if err != nil {
		return CommitResult{}, &CommitError{Stage: "hash", Path: stage, Err: err}
	}

	final := filepath.Join(root, dirName)
	aside := ""
	if _, err := os.Lstat(final); err == nil {
		aside = filepath.Join(root, fmt.Sprintf(".%s.old-%d", dirName, p.now().UnixNano()))
		if err := p.rename(final, aside); err != nil {
			return CommitResult{}, &CommitError{Stage: "rename", Path: final, Err: err}
		}
	}
	if err := p.rename(stage, final); err != nil {
		if aside != "" {
			_ = os.Rename(aside, final)
		}
		return CommitResult{}, &CommitError{Stage: "rename", Path: final, Err: err}
	}
	committed = true
	if aside != "" {
		_ = os.RemoveAll(aside)
	}
	_ = syncDir(root)

	sort.Strings(names)
	return CommitResult{Dir: final, DirName: dirName, Files: names, ContentHash: hash}, nil
}

// HashDir recomputes the content hash from the pack files on disk.
func HashDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var files []File
	for _, e := range entries {
		if !e.Type().IsRegular() || !isPackFile(e.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return "", err
		}
		files = append(files, File{Name: e.Name(), Content: data})
	}
	return ContentHash(files), nil
}

// StagingResidue lists staging directories left under root. A healthy root
// returns none.
func StagingResidue(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") && strings.Contains(e.Name(), stagingMarker) {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func validDirName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("invalid name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("name %q must be a single path segment", name)
	}
	return nil
}

func writeFileDurable(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

package core

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"packforge/pkg/domain"
)

const maxArchiveEntryBytes = 16 << 20

// ArchiveResult is a zipped build directory and its content hash.
type ArchiveResult struct {
	DirName     string
	Data        []byte
	ContentHash string
}

// Archive zips every regular file in root/dirName. Entries are name-sorted
// and carry the fixed epoch mtime, so identical directories produce identical
// bytes. The returned hash is recomputed from the zip's own pack entries.
func (p *Packager) Archive(root, dirName string) (ArchiveResult, error) {
	if err := validDirName(dirName); err != nil {
		return ArchiveResult{}, err
	}
	dir := filepath.Join(root, dirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("read build dir: %w", err)
	}
	var files []File
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return ArchiveResult{}, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		files = append(files, File{Name: e.Name(), Content: data})
	}
	data, err := WriteDeterministicZip(files)
	if err != nil {
		return ArchiveResult{}, err
	}
	hash, err := ArchiveHash(data)
	if err != nil {
		return ArchiveResult{}, err
	}
	return ArchiveResult{DirName: dirName, Data: data, ContentHash: hash}, nil
}

// WriteDeterministicZip encodes files as a zip with sorted entries, a fixed
// mtime and fixed permissions.
func WriteDeterministicZip(files []File) ([]byte, error) {
	sorted := append([]File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range sorted {
		hdr := &zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: domain.DeterministicEpoch,
		}
		hdr.SetMode(0o644)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("zip %s: %w", f.Name, err)
		}
		if _, err := w.Write(f.Content); err != nil {
			return nil, fmt.Errorf("zip %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}

// ArchiveHash computes ContentHash over the pack entries of a zip.
func ArchiveHash(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open zip: %w", err)
	}
	var files []File
	for _, zf := range zr.File {
		if !isPackFile(zf.Name) {
			continue
		}
		content, err := readZipEntry(zf)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", zf.Name, err)
		}
		files = append(files, File{Name: zf.Name, Content: content})
	}
	return ContentHash(files), nil
}

func readZipEntry(zf *zip.File) ([]byte, error) {
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rc.Close()
	}()
	data, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxArchiveEntryBytes {
		return nil, fmt.Errorf("zip entry too large")
	}
	return data, nil
}

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"packforge/internal/blob/core"
)

func TestMockStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMock("archives")
	info, err := s.Put(ctx, "archives/abc.zip", bytes.NewReader([]byte("zipdata")), core.PutOptions{
		ContentType: "application/zip",
		Metadata:    map[string]string{"content_hash": "abc"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ContentType != "application/zip" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["content_hash"] != "abc" {
		t.Fatalf("metadata lost: %+v", info.Metadata)
	}
	if _, err := s.Put(ctx, "archives/abc.zip", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := s.Get(ctx, "archives/abc.zip")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != "zipdata" {
		t.Fatalf("body = %q", body)
	}
	list, err := s.List(ctx, "archives/")
	if err != nil || len(list) != 1 || list[0].Key != "archives/abc.zip" {
		t.Fatalf("list %+v %v", list, err)
	}
	ok, err := s.Delete(ctx, "archives/abc.zip")
	if err != nil || !ok {
		t.Fatalf("delete %v %v", ok, err)
	}
	if _, _, err := s.Get(ctx, "archives/abc.zip"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, _ := s.Delete(ctx, "archives/abc.zip"); ok {
		t.Fatalf("delete of missing key reported true")
	}
}

func TestPresignURLCarriesExpiry(t *testing.T) {
	s := NewMock("archives")
	u, err := s.PresignURL(context.Background(), "archives/abc.zip", 10*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(u, "archives/abc.zip") || !strings.Contains(u, "X-Amz-Expires=600") {
		t.Fatalf("unexpected url %s", u)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	t.Setenv("PACKFORGE_BLOB_S3_BUCKET", "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected env bucket error")
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	in := "5;chunk-signature=x\r\nhello\r\n3\r\nabc\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"
	out, err := decodeAWSChunked([]byte(in))
	if err != nil || string(out) != "helloabc" {
		t.Fatalf("decode = %q %v", out, err)
	}
}

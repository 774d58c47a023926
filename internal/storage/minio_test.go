package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	miniogo "github.com/minio/minio-go/v7"
)

type fakeStore struct {
	buckets map[string]bool
	puts    map[string]string // key -> content type
	failKey string
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]bool{}, puts: map[string]string{}}
}

func (f *fakeStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	return f.buckets[bucket], nil
}

func (f *fakeStore) MakeBucket(_ context.Context, bucket string, _ miniogo.MakeBucketOptions) error {
	f.buckets[bucket] = true
	return nil
}

func (f *fakeStore) FPutObject(_ context.Context, _, object, _ string, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error) {
	if object == f.failKey {
		return miniogo.UploadInfo{}, errors.New("access denied")
	}
	f.puts[object] = opts.ContentType
	return miniogo.UploadInfo{Key: object}, nil
}

func writeReport(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"index.html", "chart.html", "frame_1.png", "frame_6.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestEnsureBucket(t *testing.T) {
	fs := newFakeStore()
	u := &Uploader{client: fs, bucket: "reports"}

	if err := u.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if !fs.buckets["reports"] {
		t.Error("Expected bucket created")
	}
	if err := u.EnsureBucket(context.Background()); err != nil {
		t.Errorf("EnsureBucket on existing bucket: %v", err)
	}
}

func TestUploadDir(t *testing.T) {
	fs := newFakeStore()
	u := &Uploader{client: fs, bucket: "reports"}

	keys, err := u.UploadDir(context.Background(), "sentinel-local/stream-1", writeReport(t))
	if err != nil {
		t.Fatalf("UploadDir: %v", err)
	}
	sort.Strings(keys)
	want := []string{
		"sentinel-local/stream-1/chart.html",
		"sentinel-local/stream-1/frame_1.png",
		"sentinel-local/stream-1/frame_6.png",
		"sentinel-local/stream-1/index.html",
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
	if ct := fs.puts["sentinel-local/stream-1/frame_1.png"]; ct != "image/png" {
		t.Errorf("Expected image/png, got %q", ct)
	}
	if ct := fs.puts["sentinel-local/stream-1/index.html"]; !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected text/html, got %q", ct)
	}
}

func TestUploadDirStopsOnError(t *testing.T) {
	fs := newFakeStore()
	fs.failKey = "p/frame_1.png"
	u := &Uploader{client: fs, bucket: "reports"}

	if _, err := u.UploadDir(context.Background(), "p", writeReport(t)); err == nil {
		t.Error("Expected upload error")
	}
}

func TestUploadDirCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	u := &Uploader{client: newFakeStore(), bucket: "reports"}
	if _, err := u.UploadDir(ctx, "p", writeReport(t)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix, rel, want string
	}{
		{"a/b", "index.html", "a/b/index.html"},
		{"a/b/", "sub/frame_1.png", "a/b/sub/frame_1.png"},
		{"", "x.png", "x.png"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.rel); got != tt.want {
			t.Errorf("ObjectKey(%q, %q): expected %q, got %q", tt.prefix, tt.rel, tt.want, got)
		}
	}
}

func TestNewUploader(t *testing.T) {
	if _, err := NewUploader(Config{Endpoint: "localhost:9000", Bucket: "reports"}); err != nil {
		t.Errorf("NewUploader: %v", err)
	}
}

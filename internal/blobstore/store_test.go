package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "memory", cfg: Config{Driver: DriverMemory}},
		{name: "dir", cfg: Config{Driver: DriverDir, Dir: t.TempDir()}},
		{name: "dir missing path", cfg: Config{Driver: DriverDir}, wantErr: true},
		{name: "unsupported driver", cfg: Config{Driver: "gcs"}, wantErr: true},
		{name: "s3 missing bucket", cfg: Config{Driver: DriverS3, S3Client: &fakeS3Client{}}, wantErr: true},
		{name: "s3 missing client", cfg: Config{Driver: DriverS3, Bucket: "tgen-e2e-reports"}, wantErr: true},
		{name: "default driver is s3", cfg: Config{Bucket: "tgen-e2e-reports", S3Client: &fakeS3Client{}}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store, err := New(tc.cfg)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if store == nil {
				t.Fatalf("New returned nil store")
			}
		})
	}
}

// roundTrip exercises the behaviour every local driver shares.
func roundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	payload := []byte(`{"version":"tgen-e2e.report.v1","run_id":"r1"}`)
	if err := store.Put(ctx, "/runs/r1/report.json", payload, PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"network": "alfajores", " ": "dropped"},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(ctx, "runs/r2/report.json", []byte("{}"), PutOptions{}); err != nil {
		t.Fatalf("Put r2: %v", err)
	}
	if err := store.Put(ctx, "runs-old/r0/report.json", []byte("{}"), PutOptions{}); err != nil {
		t.Fatalf("Put r0: %v", err)
	}

	ok, err := store.Exists(ctx, "runs/r1/report.json")
	if err != nil || !ok {
		t.Fatalf("Exists = %t, %v", ok, err)
	}
	ok, err = store.Exists(ctx, "runs/r9/report.json")
	if err != nil || ok {
		t.Fatalf("Exists(missing) = %t, %v", ok, err)
	}

	obj, err := store.Get(ctx, "runs/r1/report.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.Key != "runs/r1/report.json" {
		t.Fatalf("key mismatch: %q", obj.Key)
	}
	if !bytes.Equal(obj.Data, payload) {
		t.Fatalf("payload mismatch: got %q", obj.Data)
	}
	if obj.ContentType != "application/json" {
		t.Fatalf("content type mismatch: %q", obj.ContentType)
	}
	if len(obj.Metadata) != 1 || obj.Metadata["network"] != "alfajores" {
		t.Fatalf("metadata mismatch: %#v", obj.Metadata)
	}

	obj.Data[0] = 'X'
	reload, err := store.Get(ctx, "runs/r1/report.json")
	if err != nil {
		t.Fatalf("Get reload: %v", err)
	}
	if reload.Data[0] != '{' {
		t.Fatalf("expected stored payload to remain unchanged")
	}

	keys, err := store.List(ctx, "runs/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(keys, ",") != "runs/r1/report.json,runs/r2/report.json" {
		t.Fatalf("unexpected keys: %v", keys)
	}
	all, err := store.List(ctx, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 || all[0] != "runs-old/r0/report.json" {
		t.Fatalf("unexpected keys: %v", all)
	}

	if _, err := store.Get(ctx, "runs/r9/report.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverMemory, Prefix: "nightly/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	roundTrip(t, store)
}

func TestDirStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverDir, Dir: t.TempDir(), Prefix: "nightly"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	roundTrip(t, store)

	if err := store.Put(context.Background(), "runs/r1/report.json.meta.json", nil, PutOptions{}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for sidecar name, got %v", err)
	}
}

func TestDirStoreListMissingRoot(t *testing.T) {
	t.Parallel()

	store, err := New(Config{Driver: DriverDir, Dir: t.TempDir() + "/absent"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	keys, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestStoreRejectsInvalidKeys(t *testing.T) {
	t.Parallel()

	stores := map[string]Config{
		"memory": {Driver: DriverMemory},
		"dir":    {Driver: DriverDir, Dir: t.TempDir()},
	}
	keys := []string{"", "   ", "\x00bad", "\nnewline", "runs/../etc", "runs//x"}
	for name, cfg := range stores {
		store, err := New(cfg)
		if err != nil {
			t.Fatalf("New(%s): %v", name, err)
		}
		for _, key := range keys {
			if err := store.Put(context.Background(), key, []byte("x"), PutOptions{}); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("%s Put(%q): expected ErrInvalidKey, got %v", name, key, err)
			}
			if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrInvalidKey) {
				t.Fatalf("%s Get(%q): expected ErrInvalidKey, got %v", name, key, err)
			}
		}
	}
}

func TestS3StorePutGetExistsAndList(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{}
	store, err := New(Config{
		Driver:     DriverS3,
		Bucket:     "tgen-e2e-reports",
		Prefix:     "nightly",
		MaxGetSize: 4 << 10,
		S3Client:   client,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const fullKey = "nightly/runs/r1/report.json"
	client.putFn = func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
		if got, want := aws.ToString(in.Bucket), "tgen-e2e-reports"; got != want {
			t.Fatalf("bucket mismatch: got %q want %q", got, want)
		}
		if got := aws.ToString(in.Key); got != fullKey {
			t.Fatalf("key mismatch: got %q", got)
		}
		if got, want := aws.ToString(in.ContentType), "application/json"; got != want {
			t.Fatalf("content type mismatch: got %q want %q", got, want)
		}
		if got, want := in.Metadata["run-id"], "r1"; got != want {
			t.Fatalf("metadata mismatch: got %q want %q", got, want)
		}
		return &s3.PutObjectOutput{}, nil
	}
	client.getFn = func(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
		if got := aws.ToString(in.Key); got != fullKey {
			t.Fatalf("get key mismatch: got %q", got)
		}
		return &s3.GetObjectOutput{
			Body:        io.NopCloser(strings.NewReader("{}")),
			ContentType: aws.String("application/json"),
			Metadata:    map[string]string{"run-id": "r1"},
		}, nil
	}
	client.headFn = func(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
		if got := aws.ToString(in.Key); got != fullKey {
			t.Fatalf("head key mismatch: got %q", got)
		}
		return &s3.HeadObjectOutput{}, nil
	}
	client.listFn = func(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
		if got, want := aws.ToString(in.Prefix), "nightly/runs/"; got != want {
			t.Fatalf("list prefix mismatch: got %q want %q", got, want)
		}
		if in.ContinuationToken == nil {
			return &s3.ListObjectsV2Output{
				Contents:              []types.Object{{Key: aws.String("nightly/runs/r2/report.json")}},
				IsTruncated:           aws.Bool(true),
				NextContinuationToken: aws.String("page-2"),
			}, nil
		}
		return &s3.ListObjectsV2Output{
			Contents: []types.Object{{Key: aws.String(fullKey)}},
		}, nil
	}

	ctx := context.Background()
	if err := store.Put(ctx, "runs/r1/report.json", []byte("{}"), PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"run-id": "r1"},
	}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	obj, err := store.Get(ctx, "runs/r1/report.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(obj.Data) != "{}" || obj.Metadata["run-id"] != "r1" {
		t.Fatalf("unexpected object: %+v", obj)
	}
	ok, err := store.Exists(ctx, "runs/r1/report.json")
	if err != nil || !ok {
		t.Fatalf("Exists = %t, %v", ok, err)
	}
	keys, err := store.List(ctx, "runs/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if strings.Join(keys, ",") != "runs/r1/report.json,runs/r2/report.json" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestS3StoreMapsNotFound(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, fakeAPIError{code: "NoSuchKey", msg: "missing"}
		},
		headFn: func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
			return nil, fakeAPIError{code: "NotFound", msg: "missing"}
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "tgen-e2e-reports", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := store.Get(context.Background(), "runs/r2/report.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Get, got %v", err)
	}
	ok, err := store.Exists(context.Background(), "runs/r2/report.json")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatalf("Exists returned true for missing key")
	}
}

func TestS3StoreMaxGetSize(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("this payload is too large"))}, nil
		},
	}
	store, err := New(Config{Driver: DriverS3, Bucket: "tgen-e2e-reports", S3Client: client, MaxGetSize: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := store.Get(context.Background(), "runs/r3/report.json"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

type fakeS3Client struct {
	putFn  func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFn  func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	headFn func(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	listFn func(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

func (f *fakeS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putFn == nil {
		return &s3.PutObjectOutput{}, nil
	}
	return f.putFn(ctx, in, opts...)
}

func (f *fakeS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getFn == nil {
		return nil, errors.New("unexpected GetObject call")
	}
	return f.getFn(ctx, in, opts...)
}

func (f *fakeS3Client) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headFn == nil {
		return &s3.HeadObjectOutput{}, nil
	}
	return f.headFn(ctx, in, opts...)
}

func (f *fakeS3Client) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.listFn == nil {
		return &s3.ListObjectsV2Output{}, nil
	}
	return f.listFn(ctx, in, opts...)
}

type fakeAPIError struct {
	code string
	msg  string
}

func (f fakeAPIError) ErrorCode() string { return f.code }

func (f fakeAPIError) ErrorMessage() string { return f.msg }

func (f fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func (f fakeAPIError) Error() string { return f.code + ": " + f.msg }

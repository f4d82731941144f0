package qr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := *in.Bucket + "/" + *in.Key
	m.objects[key] = data
	m.types[key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	api := newMemS3()
	s := NewS3Store(api, "wa-artifacts", "/qrcodes/")
	ctx := context.Background()

	loc, err := s.Put(ctx, "7", []byte("png-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if loc != "s3://wa-artifacts/qrcodes/7/qrcode.png" {
		t.Errorf("locator = %q", loc)
	}
	if ct := api.types["wa-artifacts/qrcodes/7/qrcode.png"]; ct != "image/png" {
		t.Errorf("content type = %q, want image/png", ct)
	}

	rc, err := s.Open(ctx, "7")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}

	if err := s.Delete(ctx, "7"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(ctx, "7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestProvisionerWithS3Store(t *testing.T) {
	p := NewProvisioner(NewS3Store(newMemS3(), "b", ""), 64, zap.NewNop())
	if _, err := p.OnPairingCode(context.Background(), "7", "code"); err != nil {
		t.Fatal(err)
	}
	rc, err := p.ArtifactStream(context.Background(), "7")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = rc.Close() }()
	data, _ := io.ReadAll(rc)
	if !bytes.HasPrefix(data, pngMagic) {
		t.Error("artifact from S3 store is not a PNG")
	}
}

func TestSharedBucketServesOnlyOwnedCodes(t *testing.T) {
	api := newMemS3()
	owner := NewProvisioner(NewS3Store(api, "b", ""), 64, zap.NewNop())
	other := NewProvisioner(NewS3Store(api, "b", ""), 64, zap.NewNop())
	ctx := context.Background()

	loc, err := owner.OnPairingCode(ctx, "7", "code")
	if err != nil {
		t.Fatal(err)
	}
	if loc != "s3://b/7/qrcode.png" {
		t.Errorf("locator = %q", loc)
	}
	if _, ok := api.objects["b/7/qrcode.png"]; !ok {
		t.Fatal("artifact not in bucket")
	}
	if _, err := other.ArtifactStream(ctx, "7"); !errors.Is(err, ErrNotFound) {
		t.Errorf("non-owner ArtifactStream() error = %v, want ErrNotFound", err)
	}
	rc, err := owner.ArtifactStream(ctx, "7")
	if err != nil {
		t.Fatalf("owner ArtifactStream() error = %v", err)
	}
	_ = rc.Close()
}

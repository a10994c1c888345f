package publish

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"gitchat/internal/chat"
	"gitchat/internal/config"
	"gitchat/internal/testutil"
)

type stubUploader struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (u *stubUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	u.inputs = append(u.inputs, input)
	u.bodies = append(u.bodies, string(body))
	return &manager.UploadOutput{}, nil
}

func TestS3PublisherUploadsFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "archives"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "archives", "chat_20250101_20250131.zip"), []byte("bundle bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	uploader := &stubUploader{}
	p := &S3Publisher{
		uploader: uploader,
		bucket:   "chat-archives",
		prefix:   "backups",
		repoRoot: root,
		logger:   chat.NewNopLogger(),
	}

	if err := p.Publish("archives/chat_20250101_20250131.zip", "system"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(uploader.inputs) != 1 {
		t.Fatalf("uploads = %d, want 1", len(uploader.inputs))
	}
	in := uploader.inputs[0]
	if *in.Bucket != "chat-archives" {
		t.Errorf("bucket = %q", *in.Bucket)
	}
	if *in.Key != "backups/archives/chat_20250101_20250131.zip" {
		t.Errorf("key = %q", *in.Key)
	}
	if in.Metadata["author"] != "system" {
		t.Errorf("author metadata = %q", in.Metadata["author"])
	}
	if uploader.bodies[0] != "bundle bytes" {
		t.Errorf("uploaded body = %q", uploader.bodies[0])
	}
}

func TestS3PublisherMissingFile(t *testing.T) {
	p := &S3Publisher{uploader: &stubUploader{}, bucket: "b", repoRoot: t.TempDir(), logger: chat.NewNopLogger()}
	if err := p.Publish("messages/nope.txt", "alice"); err == nil {
		t.Error("Publish() of a missing file should fail")
	}
}

func TestS3PublisherUploadError(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "x.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	p := &S3Publisher{
		uploader: &stubUploader{err: errors.New("boom")},
		bucket:   "b",
		repoRoot: root,
		logger:   chat.NewNopLogger(),
	}
	if err := p.Publish("x.txt", "alice"); err == nil {
		t.Error("Publish() should surface upload errors")
	}
}

func TestNewPublisherFromConfig(t *testing.T) {
	ctx := context.Background()
	logger := chat.NewNopLogger()
	gitPub := testutil.NewRecordingPublisher()

	tests := []struct {
		name    string
		cfg     config.PublishConfig
		gitPub  chat.Publisher
		wantNil bool
		wantErr bool
	}{
		{name: "none", cfg: config.PublishConfig{Type: "none"}, wantNil: true},
		{name: "empty type", cfg: config.PublishConfig{}, wantNil: true},
		{name: "git", cfg: config.PublishConfig{Type: "git"}, gitPub: gitPub},
		{name: "git without remote", cfg: config.PublishConfig{Type: "git"}, wantErr: true},
		{name: "s3 without bucket", cfg: config.PublishConfig{Type: "s3"}, wantErr: true},
		{name: "unknown", cfg: config.PublishConfig{Type: "carrier-pigeon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPublisherFromConfig(ctx, tt.cfg, t.TempDir(), tt.gitPub, logger)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if (p == nil) != tt.wantNil {
				t.Errorf("publisher = %v, wantNil %v", p, tt.wantNil)
			}
			if tt.gitPub != nil && p != tt.gitPub {
				t.Error("git type should return the provided remote publisher")
			}
		})
	}
}

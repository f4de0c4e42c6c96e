// Package drive is the contract file store, backed by an S3-compatible
// bucket. Folders are key prefixes; the returned links are presigned GET
// URLs suitable for sharing in drafts and board comments.
package drive

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool

	// RefreshKeys supplies the current key pair after an auth failure, so a
	// rotation done outside the process gets picked up without a restart.
	RefreshKeys func() (accessKey, secretKey string, err error)
}

type FileInfo struct {
	ID       string // object key
	Name     string
	MimeType string
	Size     int64
}

type UploadResult struct {
	FileID string
	Link   string
}

type Store struct {
	cfg    Config
	client *minio.Client
}

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}
	return &Store{cfg: cfg, client: client}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// ListFilesInFolder lists objects under a folder prefix.
func (s *Store) ListFilesInFolder(ctx context.Context, folder string) ([]FileInfo, error) {
	prefix := strings.TrimSuffix(folder, "/")
	if prefix != "" {
		prefix += "/"
	}
	var files []FileInfo
	for object := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list folder %q: %w", folder, object.Err)
		}
		files = append(files, FileInfo{
			ID:       object.Key,
			Name:     path.Base(object.Key),
			MimeType: mimeFromName(object.Key),
			Size:     object.Size,
		})
	}
	return files, nil
}

// DownloadFile fetches an object's bytes.
func (s *Store) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, fileID, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", fileID, err)
	}
	defer object.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(object); err != nil {
		return nil, fmt.Errorf("read object %q: %w", fileID, err)
	}
	return buf.Bytes(), nil
}

// UploadFile stores the document and returns a durable reference. On an
// auth failure it rotates credentials once and retries once; any further
// failure is returned to the caller, who should keep using the raw bytes.
func (s *Store) UploadFile(ctx context.Context, name string, data []byte, mimeType, folder string) (UploadResult, error) {
	key := name
	if folder = strings.TrimSuffix(folder, "/"); folder != "" {
		key = folder + "/" + name
	}

	err := s.putObject(ctx, key, data, mimeType)
	if isAuthFailure(err) {
		log.Printf("drive: auth failure uploading %s, refreshing credentials and retrying once", name)
		if refreshErr := s.refreshCredentials(); refreshErr != nil {
			log.Printf("drive: credential refresh failed: %v", refreshErr)
			return UploadResult{}, fmt.Errorf("upload %q: %w", name, err)
		}
		err = s.putObject(ctx, key, data, mimeType)
	}
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %q: %w", name, err)
	}

	link, err := s.shareLink(ctx, key)
	if err != nil {
		// Upload itself succeeded; a missing link is not worth failing over.
		log.Printf("drive: presign link for %s: %v", key, err)
		link = ""
	}
	return UploadResult{FileID: key, Link: link}, nil
}

func (s *Store) putObject(ctx context.Context, key string, data []byte, mimeType string) error {
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mimeType,
	})
	return err
}

func (s *Store) shareLink(ctx context.Context, key string) (string, error) {
	presigned, err := s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, 7*24*time.Hour, url.Values{})
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}

// refreshCredentials pulls a fresh key pair from the configured source and
// rebuilds the client with it. Without a source there is nothing fresher
// than the keys that just failed, so the retry is skipped.
func (s *Store) refreshCredentials() error {
	if s.cfg.RefreshKeys == nil {
		return fmt.Errorf("no credential source configured")
	}
	accessKey, secretKey, err := s.cfg.RefreshKeys()
	if err != nil {
		return fmt.Errorf("refresh drive keys: %w", err)
	}
	client, err := minio.New(s.cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: s.cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("rebuild drive client: %w", err)
	}
	s.cfg.AccessKey, s.cfg.SecretKey = accessKey, secretKey
	s.client = client
	return nil
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == 401 || resp.StatusCode == 403 ||
		resp.Code == "AccessDenied" || resp.Code == "InvalidAccessKeyId" ||
		resp.Code == "ExpiredToken" || resp.Code == "SignatureDoesNotMatch"
}

func mimeFromName(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".doc":
		return "application/msword"
	case ".html":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}

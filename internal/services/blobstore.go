package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/ternarybob/arbor"

	"studio-board/internal/common"
	"studio-board/internal/interfaces"
)

const (
	folderMarker    = ".folder"
	thumbnailSuffix = ".thumb.png"
)

var errObjectNotFound = errors.New("object not found")

type objectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// objectBackend is the subset of object storage the blob store needs.
type objectBackend interface {
	Stat(ctx context.Context, key string) (objectInfo, error)
	Get(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Presign(ctx context.Context, key string, expiry time.Duration, filename string) (*url.URL, error)
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

type minioBackend struct {
	client *minio.Client
	bucket string
}

func newMinioBackend(ctx context.Context, config *common.BlobConfig, auth BlobAuth) (*minioBackend, error) {
	creds, err := auth.credentials()
	if err != nil {
		return nil, err
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create blob client")
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, errors.Wrapf(err, "could not check bucket %s", config.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, errors.Wrapf(err, "could not create bucket %s", config.Bucket)
		}
	}

	return &minioBackend{client: client, bucket: config.Bucket}, nil
}

func (b *minioBackend) Stat(ctx context.Context, key string) (objectInfo, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return objectInfo{}, errObjectNotFound
		}
		return objectInfo{}, errors.Wrapf(err, "stat %s", key)
	}
	return objectInfo{Key: info.Key, Size: info.Size, ContentType: info.ContentType}, nil
}

func (b *minioBackend) Get(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if start > 0 || end >= 0 {
		if err := opts.SetRange(start, end); err != nil {
			return nil, errors.Wrap(err, "invalid range")
		}
	}
	object, err := b.client.GetObject(ctx, b.bucket, key, opts)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errObjectNotFound
		}
		return nil, errors.Wrapf(err, "get %s", key)
	}
	return object, nil
}

func (b *minioBackend) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := b.client.PutObject(ctx, b.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	return errors.Wrapf(err, "put %s", key)
}

func (b *minioBackend) Presign(ctx context.Context, key string, expiry time.Duration, filename string) (*url.URL, error) {
	params := url.Values{}
	if filename != "" {
		params.Set("response-content-disposition", mime.FormatMediaType("inline", map[string]string{"filename": filename}))
	}
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, expiry, params)
	return u, errors.Wrapf(err, "presign %s", key)
}

func (b *minioBackend) Remove(ctx context.Context, key string) error {
	err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && isNoSuchKey(err) {
		return errObjectNotFound
	}
	return errors.Wrapf(err, "remove %s", key)
}

func (b *minioBackend) Ping(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return errors.Wrap(err, "bucket check failed")
	}
	if !exists {
		return errors.Errorf("bucket %s does not exist", b.bucket)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// blobStore lays files out as "<root>/<client>/<project>/<ticket>/<file>".
// Folder and file ids are the URL-safe base64 of the object key, so every
// route can address an object without a lookup table.
type blobStore struct {
	backend    objectBackend
	root       string
	linkExpiry time.Duration
	attempts   int
	delay      time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     arbor.ILogger
	metrics    *Metrics
}

// NewBlobStore connects to the configured object storage with the
// configured credential strategy.
func NewBlobStore(ctx context.Context, config *common.BlobConfig, logger arbor.ILogger, metrics *Metrics) (interfaces.BlobStore, error) {
	auth, err := BlobAuthFromConfig(config)
	if err != nil {
		return nil, err
	}
	backend, err := newMinioBackend(ctx, config, auth)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeBlob, "CONNECT_FAILED", "could not connect to blob storage")
	}
	logger.Info().Str("endpoint", config.Endpoint).Str("bucket", config.Bucket).Str("auth", auth.Strategy()).Msg("Blob storage connected")
	return newBlobStore(backend, config, logger, metrics), nil
}

func newBlobStore(backend objectBackend, config *common.BlobConfig, logger arbor.ILogger, metrics *Metrics) *blobStore {
	root := sanitizeSegment(config.RootFolder)
	if root == "" {
		root = "files"
	}
	attempts := config.ThumbnailAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &blobStore{
		backend:    backend,
		root:       root,
		linkExpiry: time.Duration(config.LinkExpiryHours) * time.Hour,
		attempts:   attempts,
		delay:      time.Duration(config.ThumbnailDelayMs) * time.Millisecond,
		sleep:      sleepContext,
		logger:     logger,
		metrics:    metrics,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitizeSegment turns a display name into a single safe path segment.
func sanitizeSegment(name string) string {
	s := unsafeChars.ReplaceAllString(strings.TrimSpace(name), "-")
	s = strings.Trim(s, "-.")
	if len(s) > 64 {
		s = strings.Trim(s[:64], "-.")
	}
	return s
}

func encodeID(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s *blobStore) decodeID(id string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	key := string(raw)
	if err != nil || !strings.HasPrefix(key, s.root+"/") || strings.Contains(key, "..") {
		return "", common.NewValidationError("INVALID_FILE_ID", "invalid file id")
	}
	return key, nil
}

func (s *blobStore) ResolveFolder(ctx context.Context, hints interfaces.FolderHints) (string, error) {
	segments := []string{s.root}
	for _, hint := range []string{hints.Client, hints.Project, hints.Ticket} {
		if seg := sanitizeSegment(hint); seg != "" {
			segments = append(segments, seg)
		}
	}
	prefix := strings.Join(segments, "/") + "/"
	marker := prefix + folderMarker

	_, err := s.backend.Stat(ctx, marker)
	switch {
	case err == nil:
	case errors.Is(err, errObjectNotFound):
		if err := s.backend.Put(ctx, marker, strings.NewReader(""), 0, "application/x-directory"); err != nil {
			return "", s.blobError(err, "FOLDER_FAILED", "could not create folder")
		}
		s.logger.Debug().Str("folder", prefix).Msg("Created blob folder")
	default:
		return "", s.blobError(err, "FOLDER_FAILED", "could not resolve folder")
	}
	return encodeID(prefix), nil
}

func (s *blobStore) Upload(ctx context.Context, folderID, name, contentType string, r io.Reader, size int64) (*interfaces.UploadedFile, error) {
	prefix, err := s.decodeID(folderID)
	if err != nil || !strings.HasSuffix(prefix, "/") {
		return nil, common.NewValidationError("INVALID_FOLDER_ID", "invalid folder id")
	}
	filename := sanitizeSegment(name)
	if filename == "" {
		filename = "file"
	}
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := prefix + uuid.NewString()[:8] + "_" + filename
	start := time.Now()
	if err := s.backend.Put(ctx, key, r, size, contentType); err != nil {
		s.metrics.ObserveBlob("upload", err)
		return nil, s.blobError(err, "UPLOAD_FAILED", "upload failed")
	}
	s.metrics.ObserveBlob("upload", nil)

	s.logger.Info().Str("key", key).Str("duration", time.Since(start).String()).Msg("Uploaded file")

	return &interfaces.UploadedFile{
		FileID:      encodeID(key),
		FolderID:    folderID,
		Name:        name,
		ContentType: contentType,
		Size:        size,
	}, nil
}

func (s *blobStore) Finalize(ctx context.Context, fileID string) (string, error) {
	key, err := s.decodeID(fileID)
	if err != nil {
		return "", err
	}
	if _, err := s.backend.Stat(ctx, key); err != nil {
		return "", s.blobError(err, "FINALIZE_FAILED", "could not finalize file")
	}
	link, err := s.backend.Presign(ctx, key, s.linkExpiry, displayName(key))
	if err != nil {
		return "", s.blobError(err, "FINALIZE_FAILED", "could not create shared link")
	}
	return link.String(), nil
}

func (s *blobStore) Open(ctx context.Context, fileID string, rng *interfaces.ByteRange) (*interfaces.BlobContent, error) {
	key, err := s.decodeID(fileID)
	if err != nil {
		return nil, err
	}
	info, err := s.backend.Stat(ctx, key)
	if err != nil {
		return nil, s.blobError(err, "OPEN_FAILED", "could not open file")
	}

	content := &interfaces.BlobContent{
		Name:        displayName(key),
		ContentType: info.ContentType,
		Size:        info.Size,
	}

	start, end := int64(0), int64(-1)
	if rng != nil {
		start, end = rng.Start, rng.End
		if end < 0 || end >= info.Size {
			end = info.Size - 1
		}
		if start < 0 || start > end {
			return nil, common.NewValidationError("RANGE_NOT_SATISFIABLE", "requested range not satisfiable").
				WithContext("size", info.Size)
		}
		content.Range = &interfaces.ContentRange{Start: start, End: end, Total: info.Size}
		content.Size = end - start + 1
	}

	body, err := s.backend.Get(ctx, key, start, end)
	if err != nil {
		return nil, s.blobError(err, "OPEN_FAILED", "could not open file")
	}
	content.Body = body
	s.metrics.ObserveBlob("download", nil)
	return content, nil
}

// Thumbnail looks for the generated preview of a file. Previews appear some
// time after upload, so a missing one is retried with growing waits before
// falling back to a redirect to the file itself.
func (s *blobStore) Thumbnail(ctx context.Context, fileID string) (*interfaces.Thumbnail, error) {
	key, err := s.decodeID(fileID)
	if err != nil {
		return nil, err
	}
	thumbKey := key + thumbnailSuffix

	for attempt := 1; attempt <= s.attempts; attempt++ {
		_, err := s.backend.Stat(ctx, thumbKey)
		if err == nil {
			body, err := s.backend.Get(ctx, thumbKey, 0, -1)
			if err != nil {
				return nil, s.blobError(err, "THUMBNAIL_FAILED", "could not read thumbnail")
			}
			return &interfaces.Thumbnail{Body: body}, nil
		}
		if !errors.Is(err, errObjectNotFound) {
			return nil, s.blobError(err, "THUMBNAIL_FAILED", "could not read thumbnail")
		}
		if attempt == s.attempts {
			break
		}
		if err := s.sleep(ctx, s.delay*time.Duration(attempt)); err != nil {
			return nil, err
		}
	}

	s.logger.Debug().Str("key", key).Int("attempts", s.attempts).Msg("Thumbnail not ready, redirecting")
	link, err := s.backend.Presign(ctx, key, s.linkExpiry, displayName(key))
	if err != nil {
		return nil, s.blobError(err, "THUMBNAIL_FAILED", "could not create redirect link")
	}
	return &interfaces.Thumbnail{RedirectURL: link.String()}, nil
}

func (s *blobStore) Delete(ctx context.Context, fileID string) error {
	key, err := s.decodeID(fileID)
	if err != nil {
		return err
	}
	if err := s.backend.Remove(ctx, key); err != nil {
		return s.blobError(err, "DELETE_FAILED", "could not delete file")
	}
	if err := s.backend.Remove(ctx, key+thumbnailSuffix); err != nil && !errors.Is(err, errObjectNotFound) {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete thumbnail")
	}
	return nil
}

func (s *blobStore) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return s.blobError(err, "PING_FAILED", "blob storage unreachable")
	}
	return nil
}

func (s *blobStore) blobError(err error, code, message string) error {
	if errors.Is(err, errObjectNotFound) {
		return common.NewNotFoundError("FILE_NOT_FOUND", "file not found")
	}
	s.metrics.ObserveBlob(strings.ToLower(code), err)
	return common.WrapError(err, common.ErrorTypeBlob, code, message)
}

// displayName strips the folder path and upload prefix from a key.
func displayName(key string) string {
	name := path.Base(key)
	if _, rest, ok := strings.Cut(name, "_"); ok && rest != "" {
		return rest
	}
	return name
}

// ParseRange parses a single "bytes=a-b" range header. Suffix ranges
// ("bytes=-n") are not supported and yield nil.
func ParseRange(header string) (*interfaces.ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, common.NewValidationError("INVALID_RANGE", "unsupported range header")
	}
	first, last, ok := strings.Cut(spec, "-")
	if !ok || first == "" {
		return nil, nil
	}
	var rng interfaces.ByteRange
	if _, err := fmt.Sscanf(first, "%d", &rng.Start); err != nil || rng.Start < 0 {
		return nil, common.NewValidationError("INVALID_RANGE", "invalid range start")
	}
	rng.End = -1
	if last != "" {
		if _, err := fmt.Sscanf(last, "%d", &rng.End); err != nil || rng.End < rng.Start {
			return nil, common.NewValidationError("INVALID_RANGE", "invalid range end")
		}
	}
	return &rng, nil
}

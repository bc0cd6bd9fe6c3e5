package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"releasepipe/internal/apperrors"
)

// MinioConfig locates the bucket that holds run artifacts.
type MinioConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Validate checks the connection settings.
func (c MinioConfig) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return apperrors.Validation("artifacts.minio.endpoint", "minio endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return apperrors.Validation("artifacts.minio.endpoint", fmt.Sprintf("endpoint must not include scheme: %q", c.Endpoint))
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return apperrors.Validation("artifacts.minio.bucket", "minio bucket is required")
	}
	return nil
}

// NewMinioClient builds a client for cfg.
func NewMinioClient(cfg MinioConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// EnsureBucket creates the bucket if it does not exist.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", bucket, err)
	}
	return nil
}

// MinioStore keeps a run's artifacts as objects under <prefix>/<runID>/.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
	now    func() time.Time
	ledger *ledger

	// writes serialises object writes with ledger updates per store.
	writes sync.Mutex
	closed bool

	cancelMaintenance context.CancelFunc
	maintenanceDone   chan struct{}
}

// NewMinioStore creates the store for runID and starts its expiry sweep.
func NewMinioStore(client *minio.Client, bucket, prefix, runID string, opts Options) *MinioStore {
	opts = opts.withDefaults()
	s := &MinioStore{
		client:          client,
		bucket:          bucket,
		prefix:          path.Join(prefix, runID),
		logger:          opts.Logger.With("component", "artifacts", "backend", "minio", "bucket", bucket),
		now:             opts.Now,
		ledger:          newLedger(),
		maintenanceDone: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelMaintenance = cancel
	go runMaintenance(ctx, opts.MaintenanceInterval, s.sweep, s.maintenanceDone)
	return s
}

// MinioOpener ensures the bucket exists once, then opens a store per run.
func MinioOpener(client *minio.Client, cfg MinioConfig, opts Options) Opener {
	var (
		once      sync.Once
		bucketErr error
	)
	return func(ctx context.Context, runID string) (Store, error) {
		once.Do(func() {
			bucketErr = EnsureBucket(ctx, client, cfg.Bucket, cfg.Region)
		})
		if bucketErr != nil {
			return nil, apperrors.Internal("artifact.open", bucketErr)
		}
		runOpts := opts
		if runOpts.Logger != nil {
			runOpts.Logger = runOpts.Logger.With("runId", runID)
		}
		return NewMinioStore(client, cfg.Bucket, cfg.Prefix, runID, runOpts), nil
	}
}

func (s *MinioStore) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put uploads payload under name, replacing any previous object.
func (s *MinioStore) Put(ctx context.Context, name, producer string, payload []byte, retention time.Duration) (Ref, error) {
	if err := validatePut(name, producer, retention); err != nil {
		return Ref{}, err
	}

	s.writes.Lock()
	defer s.writes.Unlock()
	if s.closed {
		return Ref{}, apperrors.Internal("artifact.put", ErrClosed)
	}

	ref := newRef(name, producer, payload, retention, s.now())
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(payload), ref.Size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
		UserMetadata: map[string]string{
			"producer":   producer,
			"digest":     ref.Digest,
			"expires-at": ref.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return Ref{}, apperrors.Internal("artifact.put", err)
	}

	if prev, replaced := s.ledger.record(ref); replaced && prev.Producer != producer {
		s.logger.Warn("Artifact replaced by a different producer",
			"artifact", name, "previous", prev.Producer, "producer", producer)
	}
	s.logger.Debug("Artifact stored", "artifact", name, "key", s.key(name), "size", ref.Size)
	return ref, nil
}

// Get downloads the payload stored under name.
func (s *MinioStore) Get(ctx context.Context, name string) ([]byte, error) {
	if _, ok := s.ledger.lookup(name, s.now()); !ok {
		return nil, apperrors.NotFound("artifact", name)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(name, err)
	}
	return data, nil
}

// List returns the live artifacts sorted by name.
func (s *MinioStore) List(ctx context.Context) ([]Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.ledger.list(s.now()), nil
}

// Close stops the sweep and removes every object of the run.
func (s *MinioStore) Close(ctx context.Context) error {
	s.writes.Lock()
	if s.closed {
		s.writes.Unlock()
		return nil
	}
	s.closed = true
	s.writes.Unlock()

	s.cancelMaintenance()
	<-s.maintenanceDone

	var firstErr error
	refs := s.ledger.drain()
	for _, ref := range refs {
		if err := s.client.RemoveObject(ctx, s.bucket, s.key(ref.Name), minio.RemoveObjectOptions{}); err != nil {
			s.logger.Warn("Failed to remove artifact object", "artifact", ref.Name, "error", err)
			if firstErr == nil {
				firstErr = apperrors.Internal("artifact.close", err)
			}
		}
	}
	s.logger.Debug("Artifact store closed", "removed", len(refs))
	return firstErr
}

func (s *MinioStore) sweep(ctx context.Context) {
	s.writes.Lock()
	defer s.writes.Unlock()

	removed := 0
	for _, ref := range s.ledger.expired(s.now()) {
		if err := s.client.RemoveObject(ctx, s.bucket, s.key(ref.Name), minio.RemoveObjectOptions{}); err != nil {
			s.logger.Warn("Failed to remove expired artifact", "artifact", ref.Name, "error", err)
			continue
		}
		if s.ledger.remove(ref) {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("Expired artifacts removed", "count", removed)
	}
}

func (s *MinioStore) mapError(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return apperrors.NotFound("artifact", name)
	}
	return apperrors.Internal("artifact.get", err)
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

var _ Store = (*MinioStore)(nil)

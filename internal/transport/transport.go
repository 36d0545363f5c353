// Package transport opens CSV exports from local paths, stdin, HTTP(S) URLs
// and S3 objects. Sources ending in .sz are snappy-framed and decompressed
// on the fly.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/golang/snappy"
)

var (
	ErrNotFound       = errors.New("source not found")
	ErrUnreachable    = errors.New("source unreachable")
	ErrUnsupported    = errors.New("unsupported source")
	ErrTooLarge       = errors.New("source too large")
	ErrRemoteDisabled = errors.New("remote sources disabled")
)

// Kind classifies a source identifier.
type Kind int

const (
	KindFile Kind = iota
	KindStdin
	KindHTTP
	KindS3
)

func (k Kind) String() string {
	switch k {
	case KindStdin:
		return "stdin"
	case KindHTTP:
		return "http"
	case KindS3:
		return "s3"
	default:
		return "file"
	}
}

// Remote reports whether the kind reaches over the network.
func (k Kind) Remote() bool {
	return k == KindHTTP || k == KindS3
}

// Classify returns the kind of a source identifier. Identifiers with a
// scheme other than http, https or s3 are unsupported.
func Classify(id string) (Kind, error) {
	if id == "-" {
		return KindStdin, nil
	}
	scheme, _, found := strings.Cut(id, "://")
	if !found {
		return KindFile, nil
	}
	switch strings.ToLower(scheme) {
	case "http", "https":
		return KindHTTP, nil
	case "s3":
		return KindS3, nil
	case "file":
		return KindFile, nil
	}
	return 0, fmt.Errorf("%w: scheme %q", ErrUnsupported, scheme)
}

// Config holds transport settings.
type Config struct {
	HTTPTimeout time.Duration
	MaxBytes    int64 // 0 means unlimited
	UserAgent   string

	S3Region    string
	S3Endpoint  string // optional custom endpoint (MinIO, LocalStack)
	S3PathStyle bool

	AllowFiles  bool
	AllowRemote bool
}

// DefaultConfig allows every source kind.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout: 30 * time.Second,
		MaxBytes:    256 << 20,
		UserAgent:   "actionplot",
		S3Region:    "us-east-1",
		AllowFiles:  true,
		AllowRemote: true,
	}
}

// Opener resolves source identifiers to readers. It is safe for concurrent
// use; the S3 client is created on first use.
type Opener struct {
	cfg    Config
	client *http.Client
	stdin  io.Reader

	s3Mu     sync.Mutex
	s3Client *s3.Client
}

// s3ConfigTimeout bounds loading AWS configuration and credentials.
const s3ConfigTimeout = 10 * time.Second

// loadAWSConfig is replaced in tests.
var loadAWSConfig = config.LoadDefaultConfig

// NewOpener creates an Opener reading "-" from os.Stdin.
func NewOpener(cfg Config) *Opener {
	return &Opener{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		stdin:  os.Stdin,
	}
}

// WithStdin replaces the reader used for "-".
func (o *Opener) WithStdin(r io.Reader) *Opener {
	o.stdin = r
	return o
}

// Open returns a reader over the raw CSV bytes of id. Errors wrap one of
// the package sentinels and carry the identifier.
func (o *Opener) Open(ctx context.Context, id string) (io.ReadCloser, error) {
	kind, err := Classify(id)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	if kind.Remote() && !o.cfg.AllowRemote {
		return nil, fmt.Errorf("open %s: %w", id, ErrRemoteDisabled)
	}
	if (kind == KindFile || kind == KindStdin) && !o.cfg.AllowFiles {
		return nil, fmt.Errorf("open %s: %w: local paths not allowed", id, ErrUnsupported)
	}

	var rc io.ReadCloser
	switch kind {
	case KindStdin:
		rc = io.NopCloser(o.stdin)
	case KindFile:
		rc, err = o.openFile(strings.TrimPrefix(id, "file://"))
	case KindHTTP:
		rc, err = o.openHTTP(ctx, id)
	case KindS3:
		rc, err = o.openS3(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", id, err)
	}

	if o.cfg.MaxBytes > 0 {
		rc = &limitedReader{rc: rc, remaining: o.cfg.MaxBytes, limit: o.cfg.MaxBytes}
	}
	if strings.HasSuffix(strings.ToLower(id), ".sz") {
		rc = &readCloser{Reader: snappy.NewReader(rc), Closer: rc}
	}
	return rc, nil
}

func (o *Opener) openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if o.cfg.MaxBytes > 0 {
		if info, statErr := f.Stat(); statErr == nil && info.Size() > o.cfg.MaxBytes {
			f.Close()
			return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, info.Size(), o.cfg.MaxBytes)
		}
	}
	return f, nil
}

func (o *Opener) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if o.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", o.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/csv, */*")

	resp, err := o.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %s", ErrUnreachable, resp.Status)
	}
	if o.cfg.MaxBytes > 0 && resp.ContentLength > o.cfg.MaxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, resp.ContentLength, o.cfg.MaxBytes)
	}
	return resp.Body, nil
}

// ParseS3 splits s3://bucket/key into its parts.
func ParseS3(id string) (bucket, key string, err error) {
	u, err := url.Parse(id)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: want s3://bucket/key, got %q", ErrUnsupported, id)
	}
	return bucket, key, nil
}

// s3 returns the shared client, creating it on first success. Loading
// runs on its own bounded context so a cancelled request cannot fail it,
// and failures are retried on the next call.
func (o *Opener) s3() (*s3.Client, error) {
	o.s3Mu.Lock()
	defer o.s3Mu.Unlock()
	if o.s3Client != nil {
		return o.s3Client, nil
	}

	var opts []func(*config.LoadOptions) error
	if o.cfg.S3Region != "" {
		opts = append(opts, config.WithRegion(o.cfg.S3Region))
	}
	ctx, cancel := context.WithTimeout(context.Background(), s3ConfigTimeout)
	defer cancel()
	awsCfg, err := loadAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load AWS config: %v", ErrUnreachable, err)
	}

	var s3Opts []func(*s3.Options)
	if o.cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.BaseEndpoint = aws.String(o.cfg.S3Endpoint)
		})
	}
	if o.cfg.S3PathStyle {
		s3Opts = append(s3Opts, func(so *s3.Options) {
			so.UsePathStyle = true
		})
	}
	o.s3Client = s3.NewFromConfig(awsCfg, s3Opts...)
	return o.s3Client, nil
}

func (o *Opener) openS3(ctx context.Context, id string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3(id)
	if err != nil {
		return nil, err
	}
	client, err := o.s3()
	if err != nil {
		return nil, err
	}

	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var noSuchBucket *types.NoSuchBucket
		if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
			return nil, ErrNotFound
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if size := aws.ToInt64(resp.ContentLength); o.cfg.MaxBytes > 0 && size > o.cfg.MaxBytes {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, o.cfg.MaxBytes)
	}
	return resp.Body, nil
}

// limitedReader fails with ErrTooLarge once more than limit bytes are read.
type limitedReader struct {
	rc        io.ReadCloser
	remaining int64
	limit     int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, l.limit)
	}
	// Read one byte past the limit to tell "exactly limit" from "over".
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.rc.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		n += int(l.remaining)
		return n, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, l.limit)
	}
	return n, err
}

func (l *limitedReader) Close() error {
	return l.rc.Close()
}

type readCloser struct {
	io.Reader
	io.Closer
}

package deadletter

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

const (
	s3BufferSize    = 4096
	s3BatchSize     = 500
	s3FlushInterval = 5 * time.Second
	s3PutTimeout    = 10 * time.Second
	s3Retries       = 3
	s3MaxBackoff    = 2 * time.Second
)

// ObjectPutter is the subset of the S3 client S3Sink uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures an S3Sink.
type S3Config struct {
	Bucket        string
	Prefix        string
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
}

// S3Sink batches dead letters into gzipped JSONL objects and uploads them
// to S3. Record is non-blocking; letters that cannot be buffered or
// uploaded go to the fallback sink.
type S3Sink struct {
	client   ObjectPutter
	cfg      S3Config
	fallback Sink
	logger   *zap.Logger

	buffer  chan Letter
	done    chan struct{}
	flushed chan struct{}
	once    sync.Once
	counter atomic.Uint64
}

// NewS3Client loads the default AWS credential chain for region. SDK-level
// retries are disabled; S3Sink retries on its own schedule.
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("NewS3Client: %w", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.RetryMaxAttempts = 1
	}), nil
}

// NewS3Sink creates the sink and starts its flush loop.
func NewS3Sink(client ObjectPutter, cfg S3Config, fallback Sink, logger *zap.Logger) *S3Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = s3BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = s3FlushInterval
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = "shield"
	}
	s := &S3Sink{
		client:   client,
		cfg:      cfg,
		fallback: fallback,
		logger:   logger,
		buffer:   make(chan Letter, s3BufferSize),
		done:     make(chan struct{}),
		flushed:  make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

func (s *S3Sink) Record(l Letter) {
	select {
	case s.buffer <- l:
	default:
		s.fallback.Record(l)
	}
}

// Close drains buffered letters, uploads them, and waits for the loop.
func (s *S3Sink) Close() {
	s.once.Do(func() { close(s.done) })
	<-s.flushed
}

func (s *S3Sink) flushLoop() {
	defer close(s.flushed)

	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Letter, 0, s.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.upload(batch)
		batch = make([]Letter, 0, s.cfg.BatchSize)
	}

	for {
		select {
		case l := <-s.buffer:
			batch = append(batch, l)
			if len(batch) >= s.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
		drain:
			for {
				select {
				case l := <-s.buffer:
					batch = append(batch, l)
				default:
					break drain
				}
			}
			flush()
			return
		}
	}
}

func (s *S3Sink) upload(batch []Letter) {
	body, err := EncodeJSONLGZ(batch)
	if err != nil {
		s.logger.Error("dead letter encode failed", zap.Error(err))
		s.spill(batch)
		return
	}

	key := s.objectKey(time.Now().UTC())
	ctx, cancel := context.WithTimeout(context.Background(), s3Retries*(s3PutTimeout+s3MaxBackoff))
	defer cancel()

	if err := s.putWithRetry(ctx, key, body); err != nil {
		s.logger.Error("dead letter upload failed",
			zap.String("key", key),
			zap.Int("letters", len(batch)),
			zap.Error(err),
		)
		s.spill(batch)
		return
	}
	s.logger.Debug("dead letters uploaded", zap.String("key", key), zap.Int("letters", len(batch)))
}

func (s *S3Sink) putWithRetry(ctx context.Context, key string, body []byte) error {
	var lastErr error
	backoff := 200 * time.Millisecond

	for attempt := 1; attempt <= s3Retries; attempt++ {
		putCtx, cancel := context.WithTimeout(ctx, s3PutTimeout)
		_, err := s.client.PutObject(putCtx, &s3.PutObjectInput{
			Bucket:          aws.String(s.cfg.Bucket),
			Key:             aws.String(key),
			Body:            bytes.NewReader(body),
			ContentLength:   aws.Int64(int64(len(body))),
			ContentType:     aws.String("application/x-ndjson"),
			ContentEncoding: aws.String("gzip"),
		})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == s3Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, s3MaxBackoff)
		}
	}
	return lastErr
}

func (s *S3Sink) spill(batch []Letter) {
	for _, l := range batch {
		s.fallback.Record(l)
	}
}

// objectKey lays objects out as <prefix>/YYYY/MM/DD/<unix>_<instance>_<n>.jsonl.gz.
func (s *S3Sink) objectKey(now time.Time) string {
	name := fmt.Sprintf("%d_%s_%06d.jsonl.gz", now.Unix(), s.cfg.InstanceID, s.counter.Add(1)%1_000_000)
	day := now.Format("2006/01/02")
	if s.cfg.Prefix == "" {
		return day + "/" + name
	}
	return s.cfg.Prefix + "/" + day + "/" + name
}

var gzipPool = sync.Pool{
	New: func() any { return gzip.NewWriter(nil) },
}

// EncodeJSONLGZ encodes letters as gzip-compressed JSON lines.
func EncodeJSONLGZ(letters []Letter) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(&buf)
	defer gzipPool.Put(gz)

	enc := json.NewEncoder(gz)
	for _, l := range letters {
		if err := enc.Encode(l); err != nil {
			_ = gz.Close()
			return nil, err
		}
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

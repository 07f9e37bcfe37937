package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/ethpandaops/automatoor/pkg/config"
	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultRegion = "us-east-1"
	probeKey      = ".automatoor-write-test"
	contentType   = "application/json"
)

// s3Archiver implements Archiver for S3-compatible storage.
type s3Archiver struct {
	log    logrus.FieldLogger
	cfg    *config.S3ArchiveConfig
	client *s3.Client
}

// Ensure interface compliance.
var _ Archiver = (*s3Archiver)(nil)

// NewS3Archiver creates a new S3 archiver from the given configuration.
func NewS3Archiver(log logrus.FieldLogger, cfg *config.S3ArchiveConfig) Archiver {
	return &s3Archiver{
		log:    log.WithField("component", "s3-archiver"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3ArchiveConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = defaultRegion
		if cfg.Region != "" {
			o.Region = cfg.Region
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		o.UsePathStyle = cfg.ForcePathStyle

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight verifies S3 connectivity by writing a small test object.
func (a *s3Archiver) Preflight(ctx context.Context) error {
	content := "automatoor write test: " + time.Now().UTC().Format(time.RFC3339)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(a.resolveKey(probeKey)),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", a.cfg.Bucket, err)
	}

	return nil
}

// Archive writes the run as JSON under <prefix>/runs/<id>.json.
func (a *s3Archiver) Archive(ctx context.Context, run *store.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encoding run %d: %w", run.ID, err)
	}

	key := a.runKey(run.ID)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	a.log.WithFields(logrus.Fields{
		"run_id": run.ID,
		"bucket": a.cfg.Bucket,
		"key":    key,
		"size":   units.HumanSize(float64(len(data))),
	}).Debug("Run archived")

	return nil
}

// Fetch returns the archived run, or ErrNotArchived if the key is absent.
func (a *s3Archiver) Fetch(ctx context.Context, runID uint) ([]byte, error) {
	key := a.runKey(runID)

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotArchived
		}

		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

func (a *s3Archiver) runKey(runID uint) string {
	return a.resolveKey("runs/" + strconv.FormatUint(uint64(runID), 10) + ".json")
}

// resolveKey places name under the configured prefix.
func (a *s3Archiver) resolveKey(name string) string {
	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}

	return prefix + "/" + name
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}

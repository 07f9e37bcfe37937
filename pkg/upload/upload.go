package upload

import (
	"context"
	"errors"

	"github.com/ethpandaops/automatoor/pkg/config"
	"github.com/ethpandaops/automatoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// ErrNotArchived is returned by Fetch when no archive exists for a run.
var ErrNotArchived = errors.New("run not archived")

// Archiver copies terminal runs to remote storage.
type Archiver interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Archive stores the JSON representation of a run.
	Archive(ctx context.Context, run *store.Run) error

	// Fetch returns the archived JSON of a run.
	Fetch(ctx context.Context, runID uint) ([]byte, error)
}

// NewArchiver returns an S3 archiver when archiving is enabled and a noop
// archiver otherwise.
func NewArchiver(log logrus.FieldLogger, cfg *config.S3ArchiveConfig) Archiver {
	if cfg == nil || !cfg.Enabled {
		return noopArchiver{}
	}

	return NewS3Archiver(log, cfg)
}

type noopArchiver struct{}

var _ Archiver = noopArchiver{}

func (noopArchiver) Preflight(_ context.Context) error { return nil }

func (noopArchiver) Archive(_ context.Context, _ *store.Run) error { return nil }

func (noopArchiver) Fetch(_ context.Context, _ uint) ([]byte, error) {
	return nil, ErrNotArchived
}

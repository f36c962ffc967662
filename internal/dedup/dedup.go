// Package dedup collapses at-least-once ingestion notifications into a
// single logical trigger per (sourceRef, version).
package dedup

import (
	"context"
	"errors"
	"strconv"
)

// ErrSuppressed is not a failure: it marks a trigger that was already
// accepted inside the dedup window and should be dropped quietly.
var ErrSuppressed = errors.New("dedup: duplicate trigger suppressed")

// Deduplicator accepts the first trigger for a dedup key within the
// configured window and suppresses the rest. A trigger for a new version
// of an already-seen sourceRef computes a different key and is therefore
// always accepted.
type Deduplicator interface {
	Accept(ctx context.Context, sourceRef string, version int) error
}

func Key(sourceRef string, version int) string {
	return "ingest:" + sourceRef + "#v" + strconv.Itoa(version)
}

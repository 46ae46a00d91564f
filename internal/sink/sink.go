// Package sink defines the storage capability both backends (SQLite and
// Elasticsearch) implement, and provides the SQLite implementation.
package sink

import (
	"context"

	"github.com/evebox/evebox-go/internal/evtypes"
)

// Sink accepts enriched records for eventual persistence. Submit buffers an
// event and reports whether the sink requests an immediate commit (both
// implementations always report false; the processor decides when to call
// Commit from Pending() against its batch size).
// Commit flushes buffered events and returns how many were written.
type Sink interface {
	Submit(rec evtypes.Record) (bool, error)
	Pending() int
	Commit(ctx context.Context) (int, error)
}

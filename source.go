package permitwatch

import (
	"context"
	"fmt"
	"io"
)

// Source produces the labels currently available for one target.
//
// Implementations either drive a browser through the reservation page or
// query a structured API; the polling loop does not care which. Fetch must
// bound every internal wait with a timeout and report failures as a
// [*FetchError].
type Source interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// SourceFunc adapts a plain function to the [Source] interface.
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Fetch calls f(ctx).
func (f SourceFunc) Fetch(ctx context.Context) (Snapshot, error) {
	return f(ctx)
}

// FetchStage names the part of a fetch that failed.
type FetchStage string

const (
	// StageRequest covers transport failures: DNS, connection refused, TLS.
	StageRequest FetchStage = "request"

	// StageStatus is a non-2xx HTTP response.
	StageStatus FetchStage = "status"

	// StageParse is a response body that could not be decoded.
	StageParse FetchStage = "parse"

	// StageStructure is a page or document missing the expected elements.
	StageStructure FetchStage = "structure"

	// StageTimeout is a wait that ran past its deadline.
	StageTimeout FetchStage = "timeout"

	// StagePanic is a source that panicked.
	StagePanic FetchStage = "panic"
)

// FetchError reports a failed poll. The loop recovers from it by waiting
// the target's error backoff and trying again.
type FetchError struct {
	Target string
	Stage  FetchStage
	Err    error
}

// NewFetchError wraps err as a [*FetchError] for stage.
func NewFetchError(stage FetchStage, err error) *FetchError {
	return &FetchError{Stage: stage, Err: err}
}

func (e *FetchError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("fetch failed (%s): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("fetch %s failed (%s): %v", e.Target, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// closeSource closes src if it owns resources.
func closeSource(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

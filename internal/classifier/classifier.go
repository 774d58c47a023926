// Package classifier is the boundary between the pipeline and the model.
//
// A Classifier turns one full window into a [P(Normal), P(Theft)] vector.
// Any failure is reported as an *InferenceError, which the pipeline treats
// as fatal for the stream: a skipped window would corrupt the consecutive
// count, so no default result is ever substituted.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/care/sentinel/internal/types"
)

// Classifier classifies a full window. Calls are synchronous and must be
// deterministic for a given window and model.
type Classifier interface {
	Classify(ctx context.Context, window types.Window) (types.ClassificationResult, error)
}

// Lifecycle is implemented by classifiers that own external resources.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// ErrNotStarted is returned when classifying before Start.
var ErrNotStarted = errors.New("classifier not started")

// InferenceError reports that no result could be produced for a window.
type InferenceError struct {
	Window int
	Err    error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed for window %d: %v", e.Window, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// Bounded wraps a Classifier with a per-call latency limit and normalises
// every failure into an *InferenceError. A zero timeout disables the limit.
type Bounded struct {
	inner   Classifier
	timeout time.Duration
}

// NewBounded wraps inner with timeout.
func NewBounded(inner Classifier, timeout time.Duration) *Bounded {
	return &Bounded{inner: inner, timeout: timeout}
}

// Classify calls the wrapped classifier and records its latency.
func (b *Bounded) Classify(ctx context.Context, window types.Window) (types.ClassificationResult, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := b.inner.Classify(ctx, window)
	if err == nil && ctx.Err() != nil {
		// Result arrived after the deadline.
		err = ctx.Err()
	}
	if err != nil {
		var ie *InferenceError
		if errors.As(err, &ie) {
			return types.ClassificationResult{}, err
		}
		return types.ClassificationResult{}, &InferenceError{Window: window.Index, Err: err}
	}

	if result.Latency == 0 {
		result.Latency = time.Since(start)
	}
	return result, nil
}

// Start forwards to the wrapped classifier when it has a lifecycle.
func (b *Bounded) Start(ctx context.Context) error {
	if lc, ok := b.inner.(Lifecycle); ok {
		return lc.Start(ctx)
	}
	return nil
}

// Stop forwards to the wrapped classifier when it has a lifecycle.
func (b *Bounded) Stop() error {
	if lc, ok := b.inner.(Lifecycle); ok {
		return lc.Stop()
	}
	return nil
}

// Unwrap returns the wrapped classifier.
func (b *Bounded) Unwrap() Classifier {
	return b.inner
}

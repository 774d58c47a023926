package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/care/sentinel/internal/types"
)

func win(index int) types.Window {
	return types.Window{Index: index, Frames: []types.Frame{{Seq: uint64(index)}}}
}

func TestScripted(t *testing.T) {
	s := NewScripted(false, types.LabelNormal, types.LabelTheft)
	ctx := context.Background()

	tests := []struct {
		index int
		want  types.Label
	}{
		{0, types.LabelNormal},
		{1, types.LabelTheft},
	}
	for _, tt := range tests {
		r, err := s.Classify(ctx, win(tt.index))
		if err != nil {
			t.Fatalf("window %d: unexpected error: %v", tt.index, err)
		}
		if r.Label() != tt.want {
			t.Errorf("window %d: expected %v, got %v", tt.index, tt.want, r.Label())
		}
	}

	// Same window twice gives the same answer.
	a, _ := s.Classify(ctx, win(1))
	b, _ := s.Classify(ctx, win(1))
	if a != b {
		t.Errorf("scripted classifier not deterministic: %v vs %v", a, b)
	}
}

func TestScriptedPastEndIsInferenceError(t *testing.T) {
	s := NewScripted(false, types.LabelNormal)

	_, err := s.Classify(context.Background(), win(5))
	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InferenceError, got %v", err)
	}
	if ie.Window != 5 {
		t.Errorf("expected window 5, got %d", ie.Window)
	}
}

func TestScriptedLoop(t *testing.T) {
	s := NewScripted(true, types.LabelNormal, types.LabelTheft)
	r, err := s.Classify(context.Background(), win(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Label() != types.LabelTheft {
		t.Errorf("expected Theft for window 5 of a 2-entry loop, got %v", r.Label())
	}
}

func TestParseScript(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    []types.Label
		wantErr bool
	}{
		{"shorthand", "N,T,T,T,N", []types.Label{types.LabelNormal, types.LabelTheft, types.LabelTheft, types.LabelTheft, types.LabelNormal}, false},
		{"words with spaces", "normal, theft", []types.Label{types.LabelNormal, types.LabelTheft}, false},
		{"unknown label", "N,X", nil, true},
		{"empty", " , ", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseScript(tt.script, false)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i, want := range tt.want {
				r, err := s.Classify(context.Background(), win(i))
				if err != nil {
					t.Fatalf("window %d: %v", i, err)
				}
				if r.Label() != want {
					t.Errorf("window %d: expected %v, got %v", i, want, r.Label())
				}
			}
		})
	}
}

type slowClassifier struct {
	delay time.Duration
}

func (s slowClassifier) Classify(ctx context.Context, w types.Window) (types.ClassificationResult, error) {
	select {
	case <-time.After(s.delay):
		return ResultFor(types.LabelNormal), nil
	case <-ctx.Done():
		return types.ClassificationResult{}, ctx.Err()
	}
}

type failingClassifier struct{ err error }

func (f failingClassifier) Classify(context.Context, types.Window) (types.ClassificationResult, error) {
	return types.ClassificationResult{}, f.err
}

func TestBoundedTimeout(t *testing.T) {
	b := NewBounded(slowClassifier{delay: time.Second}, 20*time.Millisecond)

	_, err := b.Classify(context.Background(), win(7))
	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InferenceError, got %v", err)
	}
	if ie.Window != 7 {
		t.Errorf("expected window 7, got %d", ie.Window)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded in chain, got %v", err)
	}
}

func TestBoundedWrapsErrors(t *testing.T) {
	cause := errors.New("model crashed")
	b := NewBounded(failingClassifier{err: cause}, 0)

	_, err := b.Classify(context.Background(), win(2))
	var ie *InferenceError
	if !errors.As(err, &ie) {
		t.Fatalf("expected *InferenceError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause in chain, got %v", err)
	}
}

func TestBoundedKeepsExistingInferenceError(t *testing.T) {
	orig := &InferenceError{Window: 9, Err: errors.New("bad")}
	b := NewBounded(failingClassifier{err: orig}, 0)

	_, err := b.Classify(context.Background(), win(9))
	if err != orig {
		t.Errorf("expected original error to pass through, got %v", err)
	}
}

func TestBoundedRecordsLatency(t *testing.T) {
	b := NewBounded(slowClassifier{delay: 5 * time.Millisecond}, time.Second)
	r, err := b.Classify(context.Background(), win(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Latency <= 0 {
		t.Errorf("expected positive latency, got %v", r.Latency)
	}
}

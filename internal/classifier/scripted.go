package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/care/sentinel/internal/types"
)

// Scripted returns a fixed result per window index. Used for the demo source
// and for exercising the pipeline without a model.
type Scripted struct {
	results []types.ClassificationResult
	loop    bool
}

// NewScripted builds a script from labels. Theft windows score 0.9, Normal 0.1.
func NewScripted(loop bool, labels ...types.Label) *Scripted {
	results := make([]types.ClassificationResult, len(labels))
	for i, l := range labels {
		results[i] = ResultFor(l)
	}
	return &Scripted{results: results, loop: loop}
}

// NewScriptedResults builds a script from explicit probability vectors.
func NewScriptedResults(loop bool, results ...types.ClassificationResult) *Scripted {
	return &Scripted{results: results, loop: loop}
}

// ParseScript reads a comma separated label list such as "N,T,T,T,N".
func ParseScript(script string, loop bool) (*Scripted, error) {
	var labels []types.Label
	for _, field := range strings.Split(script, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		l, err := types.ParseLabel(field)
		if err != nil {
			return nil, fmt.Errorf("parse script: %w", err)
		}
		labels = append(labels, l)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("parse script: no labels")
	}
	return NewScripted(loop, labels...), nil
}

// ResultFor returns a confident result for a label.
func ResultFor(l types.Label) types.ClassificationResult {
	if l == types.LabelTheft {
		return types.ClassificationResult{Probabilities: [types.NumClasses]float64{0.1, 0.9}}
	}
	return types.ClassificationResult{Probabilities: [types.NumClasses]float64{0.9, 0.1}}
}

// Classify returns the scripted result for window.Index.
func (s *Scripted) Classify(ctx context.Context, window types.Window) (types.ClassificationResult, error) {
	if err := ctx.Err(); err != nil {
		return types.ClassificationResult{}, err
	}
	if len(s.results) == 0 {
		return types.ClassificationResult{}, &InferenceError{Window: window.Index, Err: fmt.Errorf("empty script")}
	}

	idx := window.Index
	if s.loop {
		idx %= len(s.results)
	}
	if idx < 0 || idx >= len(s.results) {
		return types.ClassificationResult{}, &InferenceError{
			Window: window.Index,
			Err:    fmt.Errorf("script has %d entries", len(s.results)),
		}
	}
	return s.results[idx], nil
}

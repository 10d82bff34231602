// Package analyzer derives statistics, index suggestions and query pattern
// groups from MongoDB profiler entries. Every function is pure: it reads the
// entries it is given and returns freshly built values.
package analyzer

import (
	"fmt"

	"github.com/ggagosh/argus/pkg/models"
	"golang.org/x/sync/errgroup"
)

// EngineError reports a failure inside one analysis engine
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s engine failed: %v", e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Engine names used in EngineError
const (
	EngineSummary  = "summary"
	EngineIndexes  = "indexes"
	EnginePatterns = "patterns"
)

// Analyze runs the summary, index and pattern engines concurrently over the
// same entries. Each engine is isolated: a panic in one becomes an
// EngineError after the others have finished, and no partial result is
// returned.
func Analyze(entries []models.LogEntry) (*models.AnalysisResult, error) {
	var (
		summary     models.Summary
		suggestions []models.IndexSuggestion
		patterns    []models.QueryPatternGroup
		g           errgroup.Group
	)

	g.Go(isolate(EngineSummary, func() { summary = Summarize(entries) }))
	g.Go(isolate(EngineIndexes, func() { suggestions = RecommendIndexes(entries) }))
	g.Go(isolate(EnginePatterns, func() { patterns = ClusterPatterns(entries) }))

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &models.AnalysisResult{
		Summary:          summary,
		IndexSuggestions: suggestions,
		PatternGroups:    patterns,
	}, nil
}

func isolate(engine string, run func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &EngineError{Engine: engine, Err: fmt.Errorf("%v", r)}
			}
		}()
		run()
		return nil
	}
}

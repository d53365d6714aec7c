package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"depvet/model"
)

// FileBenchmarkFeed serves scores from a JSON document mapping "name" or "name@version" to a 0-100
// score. A versioned key wins over the bare name.
type FileBenchmarkFeed struct {
	Scores map[string]float64
}

func LoadBenchmarks(path string) (*FileBenchmarkFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read benchmarks: %w", err)
	}
	feed := &FileBenchmarkFeed{}
	if err := json.Unmarshal(data, &feed.Scores); err != nil {
		return nil, fmt.Errorf("failed to decode benchmarks: %w", err)
	}
	return feed, nil
}

func (f *FileBenchmarkFeed) Benchmark(_ context.Context, pkg model.Package) (float64, bool, error) {
	if s, ok := f.Scores[pkg.Key()]; ok {
		return s, true, nil
	}
	s, ok := f.Scores[pkg.Name]
	return s, ok, nil
}

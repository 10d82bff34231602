package analyzer

import (
	"math"
	"sort"

	"github.com/ggagosh/argus/pkg/models"
)

// Summarize computes overall, per-collection and per-operation-kind
// statistics. Collections are ordered by total time, operation kinds by
// count. An empty log yields zeroes and empty lists.
func Summarize(entries []models.LogEntry) models.Summary {
	summary := models.Summary{
		ByCollection:    make([]models.GroupStats, 0),
		ByOperationKind: make([]models.GroupStats, 0),
	}
	if len(entries) == 0 {
		return summary
	}

	byCollection := newStatsGroups()
	byKind := newStatsGroups()
	for _, entry := range entries {
		millis := entry.Millis()
		summary.TotalDurationMs += millis
		summary.MaxDurationMs = math.Max(summary.MaxDurationMs, millis)

		byCollection.add(orUnknown(entry.Namespace()), millis)
		byKind.add(orUnknown(entry.Op()), millis)
	}

	summary.TotalOperations = len(entries)
	summary.AvgDurationMs = average(summary.TotalDurationMs, len(entries))

	summary.ByCollection = byCollection.sorted(func(a, b models.GroupStats) bool {
		return a.TotalDurationMs > b.TotalDurationMs
	})
	summary.ByOperationKind = byKind.sorted(func(a, b models.GroupStats) bool {
		return a.Count > b.Count
	})
	return summary
}

type statsGroups struct {
	index map[string]int
	stats []models.GroupStats
}

func newStatsGroups() *statsGroups {
	return &statsGroups{index: make(map[string]int)}
}

func (g *statsGroups) add(name string, millis float64) {
	i, ok := g.index[name]
	if !ok {
		i = len(g.stats)
		g.index[name] = i
		g.stats = append(g.stats, models.GroupStats{Name: name})
	}
	g.stats[i].Count++
	g.stats[i].TotalDurationMs += millis
}

func (g *statsGroups) sorted(less func(a, b models.GroupStats) bool) []models.GroupStats {
	out := make([]models.GroupStats, len(g.stats))
	for i, s := range g.stats {
		s.AvgDurationMs = average(s.TotalDurationMs, s.Count)
		out[i] = s
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// average rounds to two decimals; every average in a result goes through it
func average(total float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return math.Round(total/float64(count)*100) / 100
}

func orUnknown(s string) string {
	if s == "" {
		return KindUnknown
	}
	return s
}

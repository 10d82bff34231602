package analyzer

import (
	"math"
	"sort"

	"github.com/ggagosh/argus/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	maxPatternGroups = 20
	maxExamples      = 3
	maxTopNamespaces = 3

	queryTypeFind      = "find"
	queryTypeAggregate = "aggregate"
)

type patternMember struct {
	op        models.NormalizedOperation
	queryType string
	collscan  bool
}

type patternGroup struct {
	key     string
	members []patternMember
}

// ClusterPatterns groups find/query operations and aggregations by the
// fingerprint of their filter. Aggregations without a $match stage are
// grouped by their stage sequence instead. Returns at most 20 groups,
// largest total duration first.
func ClusterPatterns(entries []models.LogEntry) []models.QueryPatternGroup {
	index := make(map[string]*patternGroup)
	var order []*patternGroup

	for i, entry := range entries {
		filter, key, queryType, ok := patternOf(entry)
		if !ok {
			continue
		}

		op := Normalize(i, entry)
		op.Filter = models.Document(filter)

		g, exists := index[key]
		if !exists {
			g = &patternGroup{key: key}
			index[key] = g
			order = append(order, g)
		}
		g.members = append(g.members, patternMember{
			op:        op,
			queryType: queryType,
			collscan:  entry.UsesCollectionScan(),
		})
	}

	groups := make([]models.QueryPatternGroup, 0, len(order))
	for _, g := range order {
		groups = append(groups, summarizeGroup(g))
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].TotalDurationMs > groups[j].TotalDurationMs
	})
	if len(groups) > maxPatternGroups {
		groups = groups[:maxPatternGroups]
	}
	return groups
}

// patternOf returns the filter used for clustering, its fingerprint and
// query type, or ok=false when the entry is not query-shaped.
func patternOf(entry models.LogEntry) (filter bson.D, key, queryType string, ok bool) {
	cmd := entry.Command()
	switch OperationKind(entry) {
	case KindQuery, KindFind:
		if _, hasQuery := entry.Query(); !hasQuery && !cmd.Has("filter") {
			return nil, "", "", false
		}
		filter = NormalizeFilter(entry)
		return filter, Fingerprint(filter), queryTypeFind, true

	case KindAggregate:
		if merged, found := mergedMatch(cmd); found {
			return merged, Fingerprint(merged), queryTypeAggregate, true
		}
		names := stageNames(cmd)
		stages := make(bson.A, len(names))
		for i, n := range names {
			stages[i] = n
		}
		proxy := bson.D{{Key: pipelineStructure, Value: stages}}
		return proxy, FingerprintPipeline(names), queryTypeAggregate, true
	}
	return nil, "", "", false
}

func summarizeGroup(g *patternGroup) models.QueryPatternGroup {
	var total, slowest float64
	collscan := false
	queryTypes := make(map[string]int)
	for _, m := range g.members {
		total += m.op.DurationMs
		slowest = math.Max(slowest, m.op.DurationMs)
		collscan = collscan || m.collscan
		queryTypes[m.queryType]++
	}
	count := len(g.members)

	return models.QueryPatternGroup{
		PatternKey:         g.key,
		OccurrenceCount:    count,
		TotalDurationMs:    total,
		AvgDurationMs:      average(total, count),
		MaxDurationMs:      slowest,
		TopNamespaces:      topNamespaces(g.members),
		QueryTypes:         queryTypes,
		ExampleOperations:  slowestExamples(g.members),
		UsesCollectionScan: collscan,
	}
}

func topNamespaces(members []patternMember) []models.NamespaceShare {
	counts := make(map[string]int)
	var names []string
	for _, m := range members {
		ns := m.op.Namespace
		if ns == "" {
			ns = KindUnknown
		}
		if counts[ns] == 0 {
			names = append(names, ns)
		}
		counts[ns]++
	}

	sort.SliceStable(names, func(i, j int) bool {
		return counts[names[i]] > counts[names[j]]
	})
	if len(names) > maxTopNamespaces {
		names = names[:maxTopNamespaces]
	}

	shares := make([]models.NamespaceShare, len(names))
	for i, ns := range names {
		shares[i] = models.NamespaceShare{
			Namespace:  ns,
			Count:      counts[ns],
			Percentage: int(math.Round(float64(counts[ns]) / float64(len(members)) * 100)),
		}
	}
	return shares
}

func slowestExamples(members []patternMember) []models.NormalizedOperation {
	ops := make([]models.NormalizedOperation, len(members))
	for i, m := range members {
		ops[i] = m.op
	}
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].DurationMs > ops[j].DurationMs
	})
	if len(ops) > maxExamples {
		ops = ops[:maxExamples]
	}
	return ops
}

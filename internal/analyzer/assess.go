package analyzer

import (
	"fmt"
	"math"
	"strings"

	"github.com/ggagosh/argus/pkg/models"
)

const (
	moderateScanRatio  = 3
	moderateDurationMs = 50
)

// Assess produces the local, rule-based findings for one operation: scan
// ratio, execution plan, duration, and an overall verdict when nothing
// looks wrong. Findings use the same shape as AI commentary so either can
// be shown for a selected operation.
func Assess(entry models.LogEntry) []models.Finding {
	findings := make([]models.Finding, 0, 4)

	docs, returned := entry.DocsExamined(), entry.NReturned()
	ratio := docs / math.Max(1, returned)
	if docs > 0 && returned > 0 {
		findings = append(findings, scanRatioFinding(docs, returned, ratio))
	}

	plan := entry.PlanSummary()
	if plan != "" {
		findings = append(findings, planFinding(plan))
	}

	millis := entry.Millis()
	findings = append(findings, durationFinding(millis))

	if !entry.UsesCollectionScan() && ratio <= moderateScanRatio && millis <= moderateDurationMs {
		findings = append(findings, models.Finding{
			Severity: models.SeverityInfo,
			Message:  "This query is performing well with the current indexes and configuration.",
		})
	}
	return findings
}

func scanRatioFinding(docs, returned, ratio float64) models.Finding {
	switch {
	case ratio > HighScanRatio:
		return models.Finding{
			Severity: models.SeverityDanger,
			Message: fmt.Sprintf("High scan ratio %.1f:1: %s documents examined to return only %s results. "+
				"Consider creating an index on the fields used in the query filter.", ratio, count(docs), count(returned)),
		}
	case ratio > moderateScanRatio:
		return models.Finding{
			Severity: models.SeverityWarning,
			Message: fmt.Sprintf("Moderate scan ratio %.1f:1: examining %s documents for %s results could be improved with better indexes.",
				ratio, count(docs), count(returned)),
		}
	default:
		return models.Finding{
			Severity: models.SeverityInfo,
			Message: fmt.Sprintf("Good scan ratio %.1f:1: only %s documents examined to return %s results.",
				ratio, count(docs), count(returned)),
		}
	}
}

func planFinding(plan string) models.Finding {
	switch {
	case strings.Contains(plan, "COLLSCAN"):
		return models.Finding{
			Severity: models.SeverityDanger,
			Message: fmt.Sprintf("Collection scan detected (%s): the whole collection was scanned to find matching documents. "+
				"This gets slower as the collection grows; add an index for this query pattern.", plan),
		}
	case strings.Contains(plan, "IXSCAN"):
		return models.Finding{
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("Using index scan (%s).", plan),
		}
	default:
		return models.Finding{
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("Execution plan: %s", plan),
		}
	}
}

func durationFinding(millis float64) models.Finding {
	switch {
	case millis > SlowQueryThresholdMs:
		return models.Finding{
			Severity: models.SeverityDanger,
			Message: fmt.Sprintf("Slow operation (%s): longer than %dms, which can hurt application performance under load.",
				FormatDuration(millis), SlowQueryThresholdMs),
		}
	case millis > moderateDurationMs:
		return models.Finding{
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("Moderate duration (%s): acceptable but could be improved.", FormatDuration(millis)),
		}
	default:
		return models.Finding{
			Severity: models.SeverityInfo,
			Message:  fmt.Sprintf("Fast operation (%s).", FormatDuration(millis)),
		}
	}
}

// FormatDuration renders milliseconds as "850ms" or "1.20s"
func FormatDuration(millis float64) string {
	if millis < 1000 {
		return fmt.Sprintf("%.0fms", millis)
	}
	return fmt.Sprintf("%.2fs", millis/1000)
}

func count(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

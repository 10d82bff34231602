package analyzer

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	maxFingerprintDepth = 10
	literalMarker       = "?"
	truncatedMarker     = "..."
	pipelineStructure   = "pipelineStructure"
)

// Fingerprint returns the structure-only signature of a filter. Field names
// and operator sets are kept, literal values are replaced by "?", so
// {status: "A"} and {status: "B"} share a fingerprint while
// {age: {$gt: 5}} and {age: {$in: [1, 2]}} do not. Nesting deeper than
// ten levels collapses to "...".
func Fingerprint(filter bson.D) string {
	return canonicalTerms(Classify(filter), 0)
}

// FingerprintPipeline returns the signature of an aggregation that has no
// $match stage: the ordered list of its stage names.
func FingerprintPipeline(stages []string) string {
	return "{" + quote(pipelineStructure) + ":" + quote(stageList(stages)) + "}"
}

func canonicalTerms(terms []Term, depth int) string {
	if depth > maxFingerprintDepth {
		return truncatedMarker
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, term := range terms {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quote(term.FieldKey()))
		b.WriteByte(':')
		b.WriteString(quote(canonicalTerm(term, depth)))
	}
	b.WriteByte('}')
	return b.String()
}

func canonicalTerm(term Term, depth int) string {
	switch t := term.(type) {
	case Combinator:
		return canonicalBranches(t.Branches, depth+1)
	case OperatorExpr:
		// dotted paths keep the full operator document shape
		if strings.Contains(t.Key, ".") {
			return canonicalTerms(t.Body, depth+1)
		}
		return "{" + strings.Join(t.Operators, ",") + "}"
	case SubDocument:
		return canonicalTerms(t.Terms, depth+1)
	default:
		return literalMarker
	}
}

func canonicalBranches(branches []Branch, depth int) string {
	if depth > maxFingerprintDepth {
		return truncatedMarker
	}

	names := make([]string, 0, len(branches))
	for _, branch := range branches {
		s, ok := branch.Literal.(string)
		if branch.IsDoc || !ok {
			names = nil
			break
		}
		names = append(names, s)
	}
	if names != nil {
		return stageList(names)
	}

	parts := make([]string, len(branches))
	for i, branch := range branches {
		if branch.IsDoc {
			parts[i] = canonicalTerms(branch.Terms, depth+1)
		} else {
			parts[i] = literalMarker
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func stageList(names []string) string {
	return "[" + strings.Join(names, ",") + "]"
}

// quote renders s as a JSON string literal without HTML escaping
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

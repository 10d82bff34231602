package analyzer

import "go.mongodb.org/mongo-driver/bson"

// ExtractFields returns the dot-notation paths of a filter that are index
// candidates, in declaration order with duplicates removed. Conditions inside
// $and, $or and $nor contribute to the enclosing path; operator keys are
// never reported as fields.
func ExtractFields(filter bson.D) []string {
	fields := make([]string, 0)
	seen := make(map[string]bool)
	collectFields(Classify(filter), "", func(path string) {
		if !seen[path] {
			seen[path] = true
			fields = append(fields, path)
		}
	})
	return fields
}

func collectFields(terms []Term, prefix string, add func(string)) {
	for _, term := range terms {
		if c, ok := term.(Combinator); ok {
			for _, branch := range c.Branches {
				if branch.IsDoc {
					collectFields(branch.Terms, prefix, add)
				}
			}
			continue
		}

		key := term.FieldKey()
		if isOperator(key) {
			continue
		}
		path := joinPath(prefix, key)

		if sub, ok := term.(SubDocument); ok {
			collectFields(sub.Terms, path, add)
			continue
		}
		add(path)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

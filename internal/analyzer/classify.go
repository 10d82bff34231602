package analyzer

import (
	"sort"
	"strings"

	"github.com/ggagosh/argus/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

// Term is one classified key of a filter document. The concrete types are
// Scalar, OperatorExpr, SubDocument and Combinator; both the field extractor
// and the fingerprinter switch over them.
type Term interface {
	FieldKey() string
}

// Scalar binds a key to a literal: string, number, bool, null or array.
type Scalar struct {
	Key   string
	Value interface{}
}

// OperatorExpr binds a key to a document holding at least one $-prefixed
// key, such as {$gte: 5}. Operators is sorted and deduplicated. Body keeps
// the classified document itself.
type OperatorExpr struct {
	Key       string
	Operators []string
	Body      []Term
}

// SubDocument binds a key to a plain embedded document
type SubDocument struct {
	Key   string
	Terms []Term
}

// Combinator is $and, $or or $nor applied to an array of conditions
type Combinator struct {
	Key      string
	Branches []Branch
}

// Branch is one element of a combinator array
type Branch struct {
	IsDoc   bool
	Terms   []Term
	Literal interface{}
}

func (t Scalar) FieldKey() string       { return t.Key }
func (t OperatorExpr) FieldKey() string { return t.Key }
func (t SubDocument) FieldKey() string  { return t.Key }
func (t Combinator) FieldKey() string   { return t.Key }

var combinatorKeys = map[string]bool{
	"$and": true,
	"$or":  true,
	"$nor": true,
}

// Classify turns a filter document into terms, keeping key order.
func Classify(filter bson.D) []Term {
	terms := make([]Term, 0, len(filter))
	for _, e := range filter {
		terms = append(terms, classifyValue(e.Key, e.Value))
	}
	return terms
}

func classifyValue(key string, value interface{}) Term {
	if combinatorKeys[key] {
		if arr, ok := value.(bson.A); ok {
			return Combinator{Key: key, Branches: classifyBranches(arr)}
		}
	}

	doc, ok := models.AsDocument(value)
	if !ok {
		return Scalar{Key: key, Value: value}
	}
	if ops := operatorKeys(doc); len(ops) > 0 {
		return OperatorExpr{Key: key, Operators: ops, Body: Classify(doc)}
	}
	return SubDocument{Key: key, Terms: Classify(doc)}
}

func classifyBranches(arr bson.A) []Branch {
	branches := make([]Branch, len(arr))
	for i, item := range arr {
		if doc, ok := models.AsDocument(item); ok {
			branches[i] = Branch{IsDoc: true, Terms: Classify(doc)}
			continue
		}
		branches[i] = Branch{Literal: item}
	}
	return branches
}

func operatorKeys(doc bson.D) []string {
	seen := make(map[string]bool)
	var ops []string
	for _, e := range doc {
		if isOperator(e.Key) && !seen[e.Key] {
			seen[e.Key] = true
			ops = append(ops, e.Key)
		}
	}
	sort.Strings(ops)
	return ops
}

func isOperator(key string) bool {
	return strings.HasPrefix(key, "$")
}

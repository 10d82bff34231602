package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// ErrNotDocument is returned when JSON text expected to hold an object holds something else
var ErrNotDocument = errors.New("expected a JSON object")

// Document is a JSON object that keeps the key order of its source text.
// Nested objects are stored as bson.D and nested arrays as bson.A.
type Document bson.D

// Get returns the value stored under key
func (d Document) Get(key string) (interface{}, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Has reports whether key is present with a non-null value
func (d Document) Has(key string) bool {
	v, ok := d.Get(key)
	return ok && v != nil
}

// Keys returns the keys in document order
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, e := range d {
		keys[i] = e.Key
	}
	return keys
}

// Doc returns the subdocument stored under key, if any
func (d Document) Doc(key string) (Document, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := AsDocument(v)
	return Document(sub), ok
}

// String returns the string stored under key, or "" when absent or not a string
func (d Document) String(key string) string {
	v, _ := d.Get(key)
	s, _ := v.(string)
	return s
}

// Set replaces the value of an existing key in place or appends a new key.
func (d Document) Set(key string, value interface{}) Document {
	for i := range d {
		if d[i].Key == key {
			d[i].Value = value
			return d
		}
	}
	return append(d, bson.E{Key: key, Value: value})
}

// Clone returns a deep copy of the document
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(CloneValue(bson.D(d)).(bson.D))
}

// MarshalJSON renders the document as relaxed extended JSON, preserving key order.
func (d Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return bson.MarshalExtJSON(bson.D(d), false, false)
}

// UnmarshalJSON decodes an object while preserving key order
func (d *Document) UnmarshalJSON(data []byte) error {
	v, err := DecodeOrdered(data)
	if err != nil {
		return err
	}
	doc, ok := v.(bson.D)
	if !ok {
		return ErrNotDocument
	}
	*d = Document(doc)
	return nil
}

// MarshalYAML emits the document as an ordered YAML mapping
func (d Document) MarshalYAML() (interface{}, error) {
	if d == nil {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	return yamlNode(bson.D(d)), nil
}

func yamlNode(v interface{}) *yaml.Node {
	switch t := v.(type) {
	case bson.D:
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, e := range t {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Key},
				yamlNode(e.Value))
		}
		return n
	case Document:
		return yamlNode(bson.D(t))
	case bson.A:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range t {
			n.Content = append(n.Content, yamlNode(item))
		}
		return n
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: t}
	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(t)}
	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(t, 10)}
	case int32:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(t), 10)}
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(t)}
	case float64:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(t, 'g', -1, 64)}
	default:
		n := &yaml.Node{}
		if err := n.Encode(t); err != nil {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(t)}
		}
		return n
	}
}

// DecodeOrdered decodes JSON text into bson.D, bson.A, string, bool, nil,
// int64 or float64 values. Object key order is kept; when a key repeats,
// the last value wins and keeps the slot of the first occurrence.
func DecodeOrdered(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			doc := bson.D{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				doc = bson.D(Document(doc).Set(key, val))
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return doc, nil
		case '[':
			arr := bson.A{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", rune(t))
	case json.Number:
		return numberValue(t), nil
	default:
		return t, nil
	}
}

func numberValue(n json.Number) interface{} {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// AsDocument unwraps the object representations that can appear in a decoded tree
func AsDocument(v interface{}) (bson.D, bool) {
	switch t := v.(type) {
	case bson.D:
		return t, true
	case Document:
		return bson.D(t), true
	}
	return nil, false
}

// CloneValue deep-copies a decoded value tree
func CloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.D:
		out := make(bson.D, len(t))
		for i, e := range t {
			out[i] = bson.E{Key: e.Key, Value: CloneValue(e.Value)}
		}
		return out
	case Document:
		return Document(CloneValue(bson.D(t)).(bson.D))
	case bson.A:
		out := make(bson.A, len(t))
		for i, item := range t {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}

// ToFloat converts a decoded numeric value
func ToFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

// Truthy mirrors JSON truthiness: null, false, "", and 0 are false
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := ToFloat(v); ok {
		return f != 0
	}
	return true
}

// RenderJSON renders any decoded value as compact JSON text
func RenderJSON(v interface{}) string {
	switch t := v.(type) {
	case bson.D:
		b, err := bson.MarshalExtJSON(t, false, false)
		if err != nil {
			return "{}"
		}
		return string(b)
	case Document:
		return RenderJSON(bson.D(t))
	case bson.A:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = RenderJSON(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return "null"
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

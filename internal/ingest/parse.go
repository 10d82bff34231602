// Package ingest turns profiler exports and mongod log lines into LogEntry
// values and checks that the result looks like profiler data.
package ingest

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/ggagosh/argus/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	// ErrMalformed wraps every failure to decode the source text
	ErrMalformed = errors.New("malformed profiler export")
	// ErrNotArray is returned when the export's root value is not an array
	ErrNotArray = errors.New("profiler export must be a JSON array of operations")
	// ErrEmptyInput is returned when the export holds no operations
	ErrEmptyInput = errors.New("profiler export contains no operations")
	// ErrNoProfilerFields is returned when no entry carries op, ns or millis
	ErrNoProfilerFields = errors.New("entries do not look like profiler output: none has op, ns or millis")
)

var gzipMagic = []byte{0x1f, 0x8b}

// Parse reads a profiler export. The text may be a JSON array of objects or
// newline-delimited objects, optionally gzip-compressed. Key order is kept.
// Array elements that are not objects become empty entries.
func Parse(r io.Reader) ([]models.LogEntry, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(len(gzipMagic)); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrMalformed, err)
		}
		defer zr.Close()
		return parseReader(zr)
	}
	return parseReader(br)
}

// ParseBytes is Parse over an in-memory export
func ParseBytes(data []byte) ([]models.LogEntry, error) {
	return Parse(bytes.NewReader(data))
}

func parseReader(r io.Reader) ([]models.LogEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", ErrMalformed, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []models.LogEntry{}, nil
	}

	root, err := models.DecodeOrdered(data)
	if err != nil {
		return parseLines(data)
	}
	arr, ok := root.(bson.A)
	if !ok {
		return nil, ErrNotArray
	}

	entries := make([]models.LogEntry, len(arr))
	for i, item := range arr {
		doc, ok := models.AsDocument(item)
		if !ok {
			doc = bson.D{}
		}
		entries[i] = models.NewLogEntry(doc)
	}
	return entries, nil
}

// parseLines decodes newline-delimited JSON, one object per line.
func parseLines(data []byte) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		entry, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return entries, nil
}

// ParseLine decodes a single JSON object, such as one line of a profile dump
func ParseLine(line []byte) (models.LogEntry, error) {
	v, err := models.DecodeOrdered(line)
	if err != nil {
		return models.LogEntry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	doc, ok := models.AsDocument(v)
	if !ok {
		return models.LogEntry{}, fmt.Errorf("%w: %v", ErrMalformed, models.ErrNotDocument)
	}
	return models.NewLogEntry(doc), nil
}

// Validate rejects exports that are empty or carry no profiler fields at all
func Validate(entries []models.LogEntry) error {
	if len(entries) == 0 {
		return ErrEmptyInput
	}
	for _, e := range entries {
		if e.HasProfilerFields() {
			return nil
		}
	}
	return ErrNoProfilerFields
}

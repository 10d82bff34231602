// Package cli implements the argus command line: offline analysis of a
// profiler export and filter fingerprinting.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ggagosh/argus/internal/analyzer"
	"github.com/ggagosh/argus/internal/ingest"
	"github.com/ggagosh/argus/pkg/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Output formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// NewRootCommand builds the argus command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "argus",
		Short:         "Analyze MongoDB profiler output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAnalyzeCommand(), newFingerprintCommand())
	return root
}

// Execute runs the root command and returns the process exit code
func Execute() int {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
		return 1
	}
	return 0
}

type analyzeOptions struct {
	format     string
	maxInArray int
}

func newAnalyzeCommand() *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Analyze a profiler export",
		Long: `Analyze a system.profile export: summary statistics, ranked index
suggestions and recurring query patterns.

The export may be a JSON array, newline-delimited JSON or either of them
gzip-compressed. With no file, or "-", the export is read from stdin.

Examples:
  argus analyze profile.json
  argus analyze --format yaml profile.ndjson.gz
  mongoexport -d shop -c system.profile --jsonArray | argus analyze`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", FormatJSON, "output format (json, yaml)")
	cmd.Flags().IntVar(&opts.maxInArray, "max-in-array", ingest.DefaultMaxInArrayLength,
		"cut $in/$nin/$all arrays to this many elements before analysis (0 keeps them)")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string, opts *analyzeOptions) error {
	if err := checkFormat(opts.format); err != nil {
		return err
	}

	in, closeInput, err := openInput(cmd, args)
	if err != nil {
		return err
	}
	defer closeInput()

	entries, err := ingest.Parse(in)
	if err != nil {
		return fmt.Errorf("failed to parse profiler export: %w", err)
	}
	if err := ingest.Validate(entries); err != nil {
		return err
	}
	if opts.maxInArray > 0 {
		var longest int
		entries, longest = ingest.TruncateLargeArrays(entries, opts.maxInArray)
		if longest > opts.maxInArray {
			fmt.Fprintf(cmd.ErrOrStderr(), "note: arrays of up to %d elements were cut to %d\n", longest, opts.maxInArray)
		}
	}

	result, err := analyzer.Analyze(entries)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), opts.format, result)
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", args[0], err)
	}
	return f, func() { f.Close() }, nil
}

type fingerprintOutput struct {
	Fields      []string `json:"fields" yaml:"fields"`
	Fingerprint string   `json:"fingerprint" yaml:"fingerprint"`
}

func newFingerprintCommand() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "fingerprint FILTER_JSON",
		Short: "Print the index candidate fields and shape fingerprint of a filter",
		Example: `  argus fingerprint '{"status":"active","age":{"$gt":30}}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			v, err := models.DecodeOrdered([]byte(args[0]))
			if err != nil {
				return fmt.Errorf("invalid filter: %w", err)
			}
			filter, ok := models.AsDocument(v)
			if !ok {
				return errors.New("invalid filter: must be a JSON object")
			}
			return render(cmd.OutOrStdout(), format, fingerprintOutput{
				Fields:      analyzer.ExtractFields(filter),
				Fingerprint: analyzer.Fingerprint(filter),
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", FormatJSON, "output format (json, yaml)")
	return cmd
}

func checkFormat(format string) error {
	switch format {
	case FormatJSON, FormatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want json or yaml)", format)
}

func render(w io.Writer, format string, v interface{}) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to render yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/protscan/internal/mmfile"
	"github.com/joshuapare/protscan/pkg/format"
)

func init() {
	rootCmd.AddCommand(newIdentifyCmd())
}

func newIdentifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identify <file>",
		Short: "Show the formats a file matches and whether they parse",
		Long: `The identify command matches a file against the signature table and
parses it with every matching format, without unpacking or running
detectors.

Example:
  protscan identify setup.exe
  protscan identify data1.cab --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentify(args)
		},
	}
	return cmd
}

type identifyResult struct {
	Path    string          `json:"path" cbor:"path"`
	Size    int             `json:"size" cbor:"size"`
	Formats []formatOutcome `json:"formats" cbor:"formats"`
}

type formatOutcome struct {
	Tag       string   `json:"tag" cbor:"tag"`
	Signature string   `json:"signature" cbor:"signature"`
	Parsed    bool     `json:"parsed" cbor:"parsed"`
	Error     string   `json:"error,omitempty" cbor:"error,omitempty"`
	Entries   int      `json:"entries,omitempty" cbor:"entries,omitempty"`
	Checksum  []string `json:"checksum_mismatches,omitempty" cbor:"checksum_mismatches,omitempty"`
}

func identify(path string, b []byte) identifyResult {
	res := identifyResult{Path: path, Size: len(b)}
	for _, m := range format.Identify(b) {
		out := formatOutcome{Tag: m.Tag.String(), Signature: m.Signature.String()}
		if m.Tag.Marker() {
			out.Parsed = true
			res.Formats = append(res.Formats, out)
			continue
		}
		model, err := format.Parse(m.Tag, b)
		if err != nil {
			out.Error = err.Error()
			res.Formats = append(res.Formats, out)
			continue
		}
		out.Parsed = true
		if a, ok := model.(format.Archive); ok {
			out.Entries = len(a.Entries())
		}
		if c, ok := model.(format.Checked); ok {
			out.Checksum = c.ChecksumMismatches()
		}
		res.Formats = append(res.Formats, out)
	}
	return res
}

func runIdentify(args []string) error {
	path := args[0]
	printVerbose("Mapping: %s\n", path)

	b, release, err := mmfile.Map(path)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer release()

	res := identify(path, b)
	logger.Debug("identified", "path", path, "formats", len(res.Formats))
	if done, err := emit(res); done || err != nil {
		return err
	}

	printInfo("\nFile: %s (%s)\n", path, humanize.IBytes(uint64(res.Size)))
	if len(res.Formats) == 0 {
		printResult("  no known format\n")
		return nil
	}
	for _, f := range res.Formats {
		switch {
		case f.Error != "":
			printResult("  %-14s raw only: %s\n", f.Tag, f.Error)
		case f.Entries > 0:
			printResult("  %-14s %d entries\n", f.Tag, f.Entries)
		default:
			printResult("  %-14s ok\n", f.Tag)
		}
		printVerbose("  %-14s signature %s\n", "", f.Signature)
		for _, c := range f.Checksum {
			printResult("  %-14s checksum mismatch: %s\n", "", c)
		}
	}
	return nil
}

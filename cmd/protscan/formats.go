package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/protscan/pkg/detect"
	"github.com/joshuapare/protscan/pkg/format"
)

func init() {
	rootCmd.AddCommand(newFormatsCmd())
}

func newFormatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List the signature table and the built-in detectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormats()
		},
	}
}

type formatsResult struct {
	Signatures []signatureInfo `json:"signatures" cbor:"signatures"`
	Detectors  []detectorInfo  `json:"detectors" cbor:"detectors"`
}

type signatureInfo struct {
	Tag      string `json:"tag" cbor:"tag"`
	Policy   string `json:"policy" cbor:"policy"`
	Pattern  string `json:"pattern" cbor:"pattern"`
	Offset   int    `json:"offset" cbor:"offset"`
	Parsable bool   `json:"parsable" cbor:"parsable"`
}

type detectorInfo struct {
	Name   string   `json:"name" cbor:"name"`
	Checks []string `json:"checks" cbor:"checks"`
}

func formats() formatsResult {
	var res formatsResult
	reg := format.DefaultRegistry()
	for _, s := range reg.Signatures() {
		res.Signatures = append(res.Signatures, signatureInfo{
			Tag:      s.Tag.String(),
			Policy:   s.Policy.String(),
			Pattern:  string(s.Pattern),
			Offset:   s.Offset,
			Parsable: reg.Parsable(s.Tag),
		})
	}
	for _, d := range detect.Builtin().Detectors() {
		info := detectorInfo{Name: d.Name()}
		if _, ok := d.(detect.SectionChecker); ok {
			info.Checks = append(info.Checks, "sections")
		}
		if _, ok := d.(detect.ContentChecker); ok {
			info.Checks = append(info.Checks, "content")
		}
		if _, ok := d.(detect.LinearChecker); ok {
			info.Checks = append(info.Checks, "linear")
		}
		res.Detectors = append(res.Detectors, info)
	}
	return res
}

func runFormats() error {
	res := formats()
	if done, err := emit(res); done || err != nil {
		return err
	}

	printInfo("Signatures:\n")
	for _, s := range res.Signatures {
		where := s.Policy
		if s.Policy == "exact" {
			where = fmt.Sprintf("exact@%d", s.Offset)
		}
		note := ""
		if !s.Parsable {
			note = " (no parser)"
		}
		printResult("  %-14s %-10s %q%s\n", s.Tag, where, s.Pattern, note)
	}
	printInfo("\nDetectors:\n")
	for _, d := range res.Detectors {
		printResult("  %-16s %s\n", d.Name, strings.Join(d.Checks, ", "))
	}
	return nil
}

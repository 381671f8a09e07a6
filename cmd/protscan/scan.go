package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/joshuapare/protscan/pkg/types"
	"github.com/joshuapare/protscan/scan"
)

var (
	scanConfig     string
	scanWorkers    int
	scanMaxDepth   int
	scanExclude    []string
	scanDebug      bool
	scanStagingDir string
	scanIssues     bool
	scanIssueKinds []string
)

func init() {
	cmd := newScanCmd()
	cmd.Flags().StringVarP(&scanConfig, "config", "c", "", "YAML config file; flags override its values")
	cmd.Flags().IntVarP(&scanWorkers, "workers", "w", 0, "Artifacts processed at once (default GOMAXPROCS)")
	cmd.Flags().IntVar(&scanMaxDepth, "max-depth", 16, "Deepest nesting level scanned")
	cmd.Flags().StringSliceVar(&scanExclude, "exclude", nil, "Glob of paths to skip (repeatable, ** supported)")
	cmd.Flags().BoolVar(&scanDebug, "debug", false, "Ask detectors for verbose labels")
	cmd.Flags().StringVar(&scanStagingDir, "staging-dir", "", "Stage extracted files on disk under this directory")
	cmd.Flags().BoolVar(&scanIssues, "issues", false, "List degraded and skipped entries")
	cmd.Flags().StringSliceVar(&scanIssueKinds, "issue-kind", nil, "List only issues of this kind (repeatable, e.g. raw-only, cycle)")
	rootCmd.AddCommand(cmd)
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <path|->",
		Short: "Scan a file or directory for copy protection",
		Long: `The scan command identifies every file below path, unpacks the
archives and installers it recognizes, and reports the protection found
in each file. Use - to scan standard input.

Example:
  protscan scan /mnt/cdrom
  protscan scan setup.exe --debug
  protscan scan disc.iso.d --exclude '**/*.wav' --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args)
		},
	}
	return cmd
}

// scanOptions merges the config file with the flags that were set.
func scanOptions(cmd *cobra.Command) ([]scan.Option, error) {
	o := scan.DefaultOptions()
	if scanConfig != "" {
		var err error
		if o, err = scan.LoadOptions(scanConfig); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("workers") {
		o.Workers = scanWorkers
	}
	if flags.Changed("max-depth") {
		o.MaxDepth = scanMaxDepth
	}
	if flags.Changed("exclude") {
		o.Exclude = append(o.Exclude, scanExclude...)
	}
	if flags.Changed("debug") {
		o.Debug = scanDebug
	}
	if flags.Changed("staging-dir") {
		o.StagingDir = scanStagingDir
	}
	o.Logger = logger
	return []scan.Option{scan.WithOptions(o)}, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	target := args[0]
	opts, err := scanOptions(cmd)
	if err != nil {
		return err
	}
	s, err := scan.New(opts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	printVerbose("Scanning: %s\n", target)
	start := time.Now()
	var rep *types.Report
	if target == "-" {
		rep, err = s.ScanReader(ctx, "stdin", os.Stdin)
	} else {
		rep, err = s.ScanPath(ctx, target)
	}
	kind, _ := types.KindOf(err)
	canceled := kind == types.ErrKindCanceled
	if err != nil && !canceled {
		return err
	}

	if done, err := emit(rep.Summary()); done || err != nil {
		if err == nil && canceled {
			err = errors.New("scan interrupted; results are partial")
		}
		return err
	}

	printReport(rep)
	printInfo("\n%s artifacts scanned, %s with findings, %s issues in %s\n",
		humanize.Comma(int64(rep.Artifacts())),
		humanize.Comma(int64(len(rep.Map()))),
		humanize.Comma(int64(len(rep.Issues()))),
		time.Since(start).Round(time.Millisecond))
	if canceled {
		return errors.New("scan interrupted; results are partial")
	}
	return nil
}

func printReport(rep *types.Report) {
	m := rep.Map()
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		printResult("%s: %s\n", p, strings.Join(m[p], ", "))
	}

	if !scanIssues && !verbose && len(scanIssueKinds) == 0 {
		return
	}
	issues := rep.Issues()
	if len(scanIssueKinds) > 0 {
		issues = nil
		for _, k := range scanIssueKinds {
			issues = append(issues, rep.IssuesOf(types.IssueKind(k))...)
		}
	}
	if len(issues) == 0 {
		return
	}
	printInfo("\nIssues:\n")
	for _, is := range issues {
		tag := ""
		if is.Tag != "" {
			tag = " [" + is.Tag + "]"
		}
		printInfo("  %s: %s%s: %s\n", is.Path, is.Kind, tag, is.Msg)
	}
}

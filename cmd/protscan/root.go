package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose   bool
	quiet     bool
	jsonOut   bool
	outFormat string
	logFormat string
	logFile   string
)

// logger is set up before any command runs.
var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

var rootCmd = &cobra.Command{
	Use:   "protscan",
	Short: "Identify copy protection in game distribution files",
	Long: `protscan inspects executables, installer containers and disc-image
archives, unpacks what they contain, and reports the copy protection,
DRM wrappers, packers and engines it recognizes in each file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output and debug logging")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except results and errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format (same as --format json)")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "Output format: text, json or cbor")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Append logs to this file instead of stderr")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// output returns the selected output format.
func output() (string, error) {
	if jsonOut {
		return "json", nil
	}
	switch outFormat {
	case "text", "json", "cbor":
		return outFormat, nil
	default:
		return "", fmt.Errorf("unknown output format %q", outFormat)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printResult prints regardless of quiet mode
func printResult(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format, args...)
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// cborMode encodes with Core Deterministic Encoding so equal reports give
// equal bytes.
var cborMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protscan: CBOR encoder initialization failed: " + err.Error())
	}
	return em
}()

// printCBOR outputs data as deterministic CBOR
func printCBOR(v any) error {
	b, err := cborMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cbor: %w", err)
	}
	_, err = os.Stdout.Write(b)
	return err
}

// emit writes v in the machine-readable format, reporting whether it did.
func emit(v any) (bool, error) {
	f, err := output()
	if err != nil {
		return false, err
	}
	switch f {
	case "json":
		return true, printJSON(v)
	case "cbor":
		return true, printCBOR(v)
	}
	return false, nil
}

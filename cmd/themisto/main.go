// Command themisto is the CLI entrypoint: a single binary with `build`
// and `pseudoalign` subcommands, matching the original Themisto CLI's
// two-phase construct/query workflow. Grounded on
// other_examples/davidebolo1993-kfilt's two-subcommand cobra layout
// (build/filter) and mattdurham-tempo's go-kit/log wiring.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/Schaudge/themisto/internal/themistoerr"
)

// textLogger renders key/value pairs as plain space-separated text
// instead of logfmt's quoted/escaped form, for --log-format=text.
type textLogger struct{ w io.Writer }

func (l textLogger) Log(kv ...interface{}) error {
	parts := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		parts = append(parts, fmt.Sprintf("%v=%v", kv[i], kv[i+1]))
	}
	_, err := fmt.Fprintln(l.w, strings.Join(parts, " "))
	return err
}

func newLogger(format string) log.Logger {
	var logger log.Logger
	if format == "text" {
		logger = textLogger{w: log.NewSyncWriter(os.Stderr)}
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	return level.NewFilter(logger, level.AllowInfo())
}

func main() {
	var logFormat string

	rootCmd := &cobra.Command{
		Use:   "themisto",
		Short: "colored de Bruijn graph index construction and pseudoalignment",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "logfmt", "diagnostic log format: text|logfmt")

	rootCmd.AddCommand(newBuildCommand(&logFormat))
	rootCmd.AddCommand(newPseudoalignCommand(&logFormat))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(themistoerr.ExitCode(err))
	}
}

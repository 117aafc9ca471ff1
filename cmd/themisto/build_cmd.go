package main

import (
	"fmt"
	"os"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Schaudge/themisto/internal/build"
	"github.com/Schaudge/themisto/internal/tempfile"
	"github.com/Schaudge/themisto/internal/themistoerr"
)

func newBuildCommand(logFormat *string) *cobra.Command {
	var (
		k                       int
		inputPath               string
		colorPath               string
		autoColors              bool
		outputPrefix            string
		tempDir                 string
		memMegas                int
		nThreads                int
		colorsetPointerTradeoff int
		forwardStrandOnly       bool
		loadBoss                bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "construct a colored de Bruijn graph index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if k <= 0 && !loadBoss {
				return themistoerr.Invalid("build: -k is required unless --load-boss is set")
			}
			if inputPath == "" {
				return themistoerr.Invalid("build: -i is required")
			}
			if outputPrefix == "" {
				return themistoerr.Invalid("build: -o is required")
			}
			if autoColors && colorPath != "" {
				return themistoerr.Invalid("build: --auto-colors and -c are mutually exclusive")
			}
			if tempDir == "" {
				tempDir = os.TempDir()
			}

			tmp := tempfile.Configure(tempDir)
			tmp.InstallSignalHandler()

			logger := newLogger(*logFormat)
			opts := build.Options{
				K:                       k,
				InputPath:               inputPath,
				ColorPath:               colorPath,
				OutputPrefix:            outputPrefix,
				RAMBytes:                int64(memMegas) * 1e6,
				NThreads:                nThreads,
				ColorsetPointerTradeoff: colorsetPointerTradeoff,
				ForwardStrandOnly:       forwardStrandOnly,
				Tmp:                     tmp,
				Logger:                  logger,
				ShowProgress:            term.IsTerminal(int(os.Stdout.Fd())),
			}
			if loadBoss {
				opts.LoadBossPrefix = outputPrefix
			}

			stats, err := build.Run(opts)
			if err != nil {
				level.Error(logger).Log("msg", "build failed", "err", err)
				return err
			}
			fmt.Fprintf(os.Stderr, "sequences=%d nodes=%d distinct_colorsets=%d\n",
				stats.NumSequences, stats.NumNodes, stats.Store.NumSets)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 0, "k-mer length (required unless --load-boss)")
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "input sequences (FASTA/FASTQ, .gz accepted)")
	cmd.Flags().StringVarP(&colorPath, "colors", "c", "", "per-sequence color file, one non-negative integer per line")
	cmd.Flags().BoolVar(&autoColors, "auto-colors", false, "assign color id == sequence index (mutually exclusive with -c)")
	cmd.Flags().StringVarP(&outputPrefix, "output", "o", "", "index output prefix")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "temp file directory (default: OS temp dir)")
	cmd.Flags().IntVar(&memMegas, "mem-megas", 1000, "RAM budget for external-memory sort, in megabytes")
	cmd.Flags().IntVar(&nThreads, "n-threads", 1, "worker thread count")
	cmd.Flags().IntVar(&colorsetPointerTradeoff, "colorset-pointer-tradeoff", 1, "pointer array run-length compaction knob (1 disables)")
	cmd.Flags().BoolVar(&forwardStrandOnly, "forward-strand-only", false, "do not augment construction with reverse-complement k-mers")
	cmd.Flags().BoolVar(&loadBoss, "load-boss", false, "reuse the SBWT already at <prefix>.tdbg instead of rebuilding it")

	return cmd
}

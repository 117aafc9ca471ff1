package main

import (
	"bufio"
	"os"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/Schaudge/themisto/internal/coloring"
	"github.com/Schaudge/themisto/internal/pseudoalign"
	"github.com/Schaudge/themisto/internal/sbwt"
	"github.com/Schaudge/themisto/internal/themistoerr"
)

// avgQueryBytes is the assumed average on-disk size of one query
// record, used only to translate --buffer-size-megas into an
// approximate query-count batch size for the worker pool's producer
// lock (spec.md doesn't define an exact byte-to-record mapping).
const avgQueryBytes = 256

func newPseudoalignCommand(logFormat *string) *cobra.Command {
	var (
		queryPath          string
		indexPrefix        string
		outputPath         string
		nThreads           int
		tempDir            string
		bufferSizeMegas    float64
		reverseComplement  bool
		threshold          float64
		ignoreUnknownKmers bool
		includeUnknownKmers bool
		sortOutput         bool
	)

	cmd := &cobra.Command{
		Use:   "pseudoalign",
		Short: "pseudoalign queries against a constructed index",
		RunE: func(cmd *cobra.Command, args []string) error {
			if queryPath == "" {
				return themistoerr.Invalid("pseudoalign: -q is required")
			}
			if indexPrefix == "" {
				return themistoerr.Invalid("pseudoalign: -i is required")
			}
			if threshold < 0 || threshold > 1 {
				return themistoerr.Invalid("pseudoalign: --threshold must be in [0,1]")
			}
			_ = tempDir // accepted for interface parity; pseudoalignment needs no temp files

			logger := newLogger(*logFormat)

			dbgFile, err := os.Open(indexPrefix + ".tdbg")
			if err != nil {
				return themistoerr.Io("pseudoalign: open "+indexPrefix+".tdbg", err)
			}
			defer dbgFile.Close()
			idx, err := sbwt.Deserialize(bufio.NewReaderSize(dbgFile, 1<<20))
			if err != nil {
				return err
			}

			colorsFile, err := os.Open(indexPrefix + ".tcolors")
			if err != nil {
				return themistoerr.Io("pseudoalign: open "+indexPrefix+".tcolors", err)
			}
			defer colorsFile.Close()
			stat, err := colorsFile.Stat()
			if err != nil {
				return themistoerr.Io("pseudoalign: stat "+indexPrefix+".tcolors", err)
			}
			store, err := coloring.Open(colorsFile, stat.Size(), 10000)
			if err != nil {
				return err
			}

			mode := pseudoalign.ModeIntersection
			if cmd.Flags().Changed("threshold") {
				mode = pseudoalign.ModeThreshold
			}
			if includeUnknownKmers {
				ignoreUnknownKmers = false
			}

			var out *os.File
			if outputPath == "" || outputPath == "-" {
				out = os.Stdout
			} else {
				out, err = os.Create(outputPath)
				if err != nil {
					return themistoerr.Io("pseudoalign: create "+outputPath, err)
				}
				defer out.Close()
			}

			batchSize := int(bufferSizeMegas * 1e6 / avgQueryBytes)
			if batchSize < 1 {
				batchSize = 1
			}

			level.Info(logger).Log("msg", "pseudoaligning", "queries", queryPath, "index", indexPrefix, "num_nodes", idx.NumNodes())
			err = pseudoalign.Run(pseudoalign.RunOptions{
				QueryPath: queryPath,
				K:         idx.K(),
				Index:     &pseudoalign.Index{SBWT: idx, Store: store},
				Align: pseudoalign.Options{
					Mode:               mode,
					Tau:                threshold,
					IgnoreUnknownKmers: ignoreUnknownKmers,
					ReverseComplement:  reverseComplement,
				},
				NThreads:   nThreads,
				BatchSize:  batchSize,
				SortOutput: sortOutput,
			}, out)
			if err != nil {
				level.Error(logger).Log("msg", "pseudoalign failed", "err", err)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&queryPath, "queries", "q", "", "query file (FASTA/FASTQ, .gz accepted)")
	cmd.Flags().StringVarP(&indexPrefix, "index", "i", "", "index prefix (<prefix>.tdbg/<prefix>.tcolors)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "-", "output file, or '-' for stdout")
	cmd.Flags().IntVar(&nThreads, "n-threads", 1, "worker thread count")
	cmd.Flags().StringVar(&tempDir, "temp-dir", "", "temp directory (unused by pseudoalignment; accepted for CLI parity)")
	cmd.Flags().Float64Var(&bufferSizeMegas, "buffer-size-megas", 1, "approximate query read-ahead buffer size, in megabytes")
	cmd.Flags().BoolVar(&reverseComplement, "rc", false, "also consider the reverse complement k-mer at each position")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "threshold mode tau in [0,1] (presence of this flag selects threshold mode over intersection mode)")
	cmd.Flags().BoolVar(&ignoreUnknownKmers, "ignore-unknown-kmers", false, "threshold mode: exclude absent k-mer positions from the denominator")
	cmd.Flags().BoolVar(&includeUnknownKmers, "include-unknown-kmers", false, "threshold mode: explicitly keep absent k-mer positions in the denominator (overrides --ignore-unknown-kmers)")
	cmd.Flags().BoolVar(&sortOutput, "sort-output", false, "sort color ids ascending within each answer line")

	return cmd
}

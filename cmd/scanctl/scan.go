package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"apex-guard/internal/intel"
	"apex-guard/internal/security"
)

type scanOptions struct {
	includes    []string
	excludes    []string
	format      string
	rulesFile   string
	classifier  string
	concurrency int
	failUnder   int
	intel       bool
}

// scoreBelowError reports files scoring under --fail-under.
type scoreBelowError struct {
	threshold int
	files     []string
}

func (e *scoreBelowError) Error() string {
	return fmt.Sprintf("%d file(s) scored below %d: %s", len(e.files), e.threshold, strings.Join(e.files, ", "))
}

func newScanCmd(state *cliState) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Scan files or directories and print a report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd.Context(), state, opts, args, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&opts.includes, "include", defaultIncludes, "glob patterns selecting files inside directories")
	f.StringSliceVar(&opts.excludes, "exclude", defaultExcludes, "glob patterns to skip")
	f.StringVarP(&opts.format, "format", "f", "table", "output format: table or json")
	f.StringVar(&opts.rulesFile, "rules", "", "YAML file with extra rules (defaults to RULES_FILE)")
	f.StringVar(&opts.classifier, "classifier", "", "threat classifier: heuristic or noop (defaults to CLASSIFIER)")
	f.IntVarP(&opts.concurrency, "concurrency", "j", 0, "files scanned in parallel (defaults to BATCH_CONCURRENCY)")
	f.IntVar(&opts.failUnder, "fail-under", 0, "exit with status 2 when any file scores below this")
	f.BoolVar(&opts.intel, "intel", false, "enrich results from INTEL_FEED_URL")
	return cmd
}

func runScan(ctx context.Context, state *cliState, opts *scanOptions, roots []string, out io.Writer) error {
	if opts.format != "table" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	set, err := newFileSet(opts.includes, opts.excludes)
	if err != nil {
		return err
	}
	paths, err := set.collect(roots)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no source files matched")
	}

	scanner, closeScanner, err := buildScanner(state, opts)
	if err != nil {
		return err
	}
	defer closeScanner()

	result, err := scanAll(ctx, scanner, paths)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else if err := renderReport(out, result); err != nil {
		return err
	}

	if opts.failUnder > 0 {
		var below []string
		for _, it := range result.PerFile {
			if it.Succeeded() && it.Result.SecurityScore < opts.failUnder {
				below = append(below, it.FilePath)
			}
		}
		if len(below) > 0 {
			return &scoreBelowError{threshold: opts.failUnder, files: below}
		}
	}
	return nil
}

func buildScanner(state *cliState, opts *scanOptions) (*security.Scanner, func(), error) {
	cfg := state.cfg

	rulesFile := cfg.RulesFile
	if opts.rulesFile != "" {
		rulesFile = opts.rulesFile
	}
	catalog, err := security.LoadCatalog(rulesFile)
	if err != nil {
		return nil, nil, err
	}

	name := cfg.Classifier
	if opts.classifier != "" {
		name = opts.classifier
	}
	classifier := security.NewClassifier(name)

	scanCfg := cfg.Scanner
	if opts.concurrency > 0 {
		scanCfg.BatchConcurrency = opts.concurrency
	}

	deps := security.Dependencies{
		Catalog:    catalog,
		Classifier: classifier,
		Logger:     state.logger,
	}
	if opts.intel {
		if !cfg.Intel.Enabled() {
			return nil, nil, errors.New("--intel needs INTEL_FEED_URL")
		}
		deps.Intel = intel.NewHTTPFeed(cfg.Intel, nil, state.logger)
	}

	closeFn := func() {
		if err := classifier.Close(); err != nil {
			state.logger.Warn("classifier close", zap.Error(err))
		}
	}
	return security.NewScanner(scanCfg, deps), closeFn, nil
}

// scanAll splits paths into batches the scanner accepts and merges the
// outcomes. Unreadable files become error outcomes.
func scanAll(ctx context.Context, scanner *security.Scanner, paths []string) (*security.BatchResult, error) {
	start := time.Now()
	files, readErrs := readBatch(paths)

	items := make([]security.BatchItem, 0, len(paths))
	for p, err := range readErrs {
		items = append(items, security.BatchItem{FilePath: p, Error: err.Error()})
	}

	limit := scanner.Config().MaxBatchFiles
	for i := 0; i < len(files); i += limit {
		chunk := files[i:min(i+limit, len(files))]
		res, err := scanner.ScanBatch(ctx, chunk, true)
		if err != nil {
			return nil, err
		}
		items = append(items, res.PerFile...)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].FilePath < items[j].FilePath })
	return &security.BatchResult{
		Summary:          security.Summarize(items),
		PerFile:          items,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

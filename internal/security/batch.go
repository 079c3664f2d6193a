package security

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchCancelledMessage is the outcome message for files never dispatched because
// the batch was cancelled.
const BatchCancelledMessage = "batch cancelled before scan"

// ScanBatch scans files in groups of BatchConcurrency. A failing file is
// recorded as an error outcome and never aborts the batch. Cancelling ctx
// stops dispatching new groups; scans already running finish and count.
func (s *Scanner) ScanBatch(ctx context.Context, files []BatchFile, forceRescan bool) (*BatchResult, error) {
	if len(files) == 0 {
		return nil, NewInputError("files", "at least one file is required")
	}
	if len(files) > s.cfg.MaxBatchFiles {
		return nil, NewInputError("files", fmt.Sprintf("batch has %d files, limit is %d", len(files), s.cfg.MaxBatchFiles))
	}

	start := time.Now()
	items := make([]BatchItem, len(files))
	detached := context.WithoutCancel(ctx)
	size := s.cfg.BatchConcurrency

	dispatched := 0
	for dispatched < len(files) {
		if ctx.Err() != nil {
			break
		}
		end := min(dispatched+size, len(files))

		var g errgroup.Group
		for i := dispatched; i < end; i++ {
			g.Go(func() error {
				items[i] = s.scanBatchItem(detached, files[i], forceRescan)
				return nil
			})
		}
		_ = g.Wait()
		dispatched = end
	}

	for i := dispatched; i < len(files); i++ {
		items[i] = BatchItem{FilePath: files[i].Path, Error: BatchCancelledMessage}
	}
	if dispatched < len(files) {
		s.logger.Warn("batch cancelled",
			zap.Int("dispatched", dispatched),
			zap.Int("total", len(files)),
		)
	}

	return &BatchResult{
		Summary:          Summarize(items),
		PerFile:          items,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *Scanner) scanBatchItem(ctx context.Context, f BatchFile, forceRescan bool) (item BatchItem) {
	item.FilePath = f.Path
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("batch item panicked", zap.String("file_path", f.Path), zap.Any("panic", r))
			item = BatchItem{FilePath: f.Path, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	res, err := s.Scan(ctx, ScanRequest{Source: f.Content, FilePath: f.Path, ForceRescan: forceRescan})
	if err != nil {
		s.logger.Warn("batch item failed", zap.String("file_path", f.Path), zap.Error(err))
		item.Error = err.Error()
		return item
	}
	item.Result = res
	return item
}

// Summarize reduces over successful outcomes only.
func Summarize(items []BatchItem) BatchSummary {
	sum := BatchSummary{TotalFiles: len(items)}
	total := 0
	for _, it := range items {
		if !it.Succeeded() {
			continue
		}
		sum.ScannedFiles++
		sum.TotalFindings += len(it.Result.Findings)
		sum.CriticalFindings += it.Result.CountByTier()[TierCritical]
		total += it.Result.SecurityScore
	}
	if sum.ScannedFiles > 0 {
		sum.AverageSecurityScore = float64(total) / float64(sum.ScannedFiles)
	}
	return sum
}

package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/stepyndriyy/yadisk-to-youtube/internal/helpers"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/model"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/ui"
)

// Lister enumerates the transferable files of the source folder.
type Lister interface {
	List(ctx context.Context) ([]model.TransferItem, error)
}

// Fetcher downloads one item into localPath and returns the byte count.
type Fetcher interface {
	Fetch(ctx context.Context, item model.TransferItem, localPath string) (int64, error)
}

// Publisher uploads a staged file to the destination and returns the
// destination's durable identifier for it.
type Publisher interface {
	Publish(ctx context.Context, localPath, title, sourceName string) (string, error)
}

// Ledger is the completed-transfer record the runner consults and appends to.
type Ledger interface {
	Contains(key string) bool
	Record(key, name, videoID string, completedAt time.Time) error
}

// ItemResult is the terminal outcome of one item within a run.
type ItemResult struct {
	Item    model.TransferItem
	State   model.ItemState
	VideoID string
	Bytes   int64
	Err     error
}

// Summary aggregates a whole run.
type Summary struct {
	Listed      int
	Skipped     int // already in the ledger
	Filtered    int // extension not allowed
	Transferred int
	Failed      int
	Bytes       int64
	Elapsed     time.Duration
	Results     []ItemResult
}

func (s *Summary) OK() bool { return s.Failed == 0 }

// Runner walks the source folder sequentially: download one file, publish
// it, record it in the ledger, delete the staging copy, move on. At most one
// staging file exists at any moment.
type Runner struct {
	Lister    Lister
	Fetcher   Fetcher
	Publisher Publisher
	Ledger    Ledger

	Backoff    Backoff
	StagingDir string
	// Extensions is the allow-list of lowercase file extensions with the
	// leading dot, e.g. [".mov"]. Empty means accept everything.
	Extensions []string
	DryRun     bool

	// sleep and now are swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewRunner(lister Lister, fetcher Fetcher, publisher Publisher, ledger Ledger) *Runner {
	return &Runner{
		Lister:    lister,
		Fetcher:   fetcher,
		Publisher: publisher,
		Ledger:    ledger,
		Backoff:   DefaultBackoff(),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run performs one pass over the source folder. It returns an error only for
// run-level failures (listing failed, ledger not writable, context
// canceled); per-item failures are logged, counted in the summary and do not
// stop the pass.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := r.now()
	sum := &Summary{}

	items, err := r.Lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source folder: %w", err)
	}
	sum.Listed = len(items)
	ui.PrintInfo(fmt.Sprintf("Source folder lists %d file(s)", len(items)))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = r.now().Sub(start)
			return sum, err
		}
		if !helpers.HasAllowedExtension(item.Name, r.Extensions) {
			sum.Filtered++
			continue
		}
		if r.Ledger.Contains(item.Key()) {
			sum.Skipped++
			ui.PrintSkip(fmt.Sprintf("%s already transferred, skipping", item.Name))
			continue
		}
		if r.DryRun {
			ui.PrintInfo(fmt.Sprintf("[dry run] would transfer %s (%s)", item.Name, humanize.Bytes(uint64(item.SizeBytes))))
			continue
		}

		res := r.processItem(ctx, item)
		sum.Results = append(sum.Results, res)
		switch res.State {
		case model.StateCommitted:
			sum.Transferred++
			sum.Bytes += res.Bytes
		default:
			sum.Failed++
		}
		if ctx.Err() != nil {
			sum.Elapsed = r.now().Sub(start)
			return sum, ctx.Err()
		}
		if res.Err != nil {
			if model.ClassOf(res.Err) == model.ClassPermanentRun {
				sum.Elapsed = r.now().Sub(start)
				return sum, res.Err
			}
		}
	}

	sum.Elapsed = r.now().Sub(start)
	return sum, nil
}

// processItem runs the fetch-publish-commit cycle for one item. Fetch
// failures leave nothing on disk; publish failures leave the staged file in
// place so the next run (or a human) can pick it up.
func (r *Runner) processItem(ctx context.Context, item model.TransferItem) ItemResult {
	res := ItemResult{Item: item, State: model.StateFetching}
	staging := filepath.Join(r.StagingDir, helpers.SanitizeFilename(item.Name))

	ui.PrintDownload(fmt.Sprintf("Downloading %s (%s)", item.Name, humanize.Bytes(uint64(item.SizeBytes))))
	var n int64
	err := r.withRetry(ctx, "download", item.Name, func() error {
		got, ferr := r.Fetcher.Fetch(ctx, item, staging)
		if ferr != nil {
			os.Remove(staging)
			return ferr
		}
		if item.SizeBytes > 0 && got != item.SizeBytes {
			os.Remove(staging)
			return model.Classified(model.ClassTransient,
				fmt.Errorf("%w: got %d bytes, source lists %d", model.ErrSizeMismatch, got, item.SizeBytes))
		}
		n = got
		return nil
	})
	if err != nil {
		// Nothing staged: the item stays eligible for the next run.
		res.State = model.StatePending
		res.Err = err
		ui.PrintError(fmt.Sprintf("Download of %s failed: %v", item.Name, err))
		return res
	}
	res.Bytes = n
	res.State = model.StateFetched

	res.State = model.StatePublishing
	title := helpers.TitleFromFilename(item.Name)
	ui.PrintUpload(fmt.Sprintf("Uploading %s", item.Name))
	var videoID string
	err = r.withRetry(ctx, "upload", item.Name, func() error {
		id, perr := r.Publisher.Publish(ctx, staging, title, item.Name)
		if perr != nil {
			return perr
		}
		videoID = id
		return nil
	})
	if err != nil {
		res.State = model.StateLocalFailure
		res.Err = err
		ui.PrintError(fmt.Sprintf("Upload of %s failed, file kept at %s: %v", item.Name, staging, err))
		return res
	}

	// Commit order matters: the upload is accepted, so the ledger entry must
	// hit disk before the staging copy goes away. A ledger write failure
	// aborts the run with the file intact; the worst case on the next run is
	// a duplicate upload, never a lost file.
	if err := r.Ledger.Record(item.Key(), item.Name, videoID, r.now()); err != nil {
		res.State = model.StateLocalFailure
		res.Err = model.Classified(model.ClassPermanentRun, fmt.Errorf("record transfer of %q: %w", item.Name, err))
		ui.PrintError(fmt.Sprintf("Ledger write failed, file kept at %s: %v", staging, err))
		return res
	}
	if err := os.Remove(staging); err != nil {
		// Already committed. The leftover file is re-skipped next run via
		// the ledger, so this is only worth a warning.
		ui.PrintWarning(fmt.Sprintf("Could not remove staging file %s: %v", staging, err))
	}

	res.State = model.StateCommitted
	res.VideoID = videoID
	ui.PrintSuccess(fmt.Sprintf("%s published as %s", item.Name, videoID))
	return res
}

// withRetry runs op up to Backoff.MaxAttempts times, sleeping between
// attempts per the backoff policy. Non-retryable errors and context
// cancellation stop the loop early.
func (r *Runner) withRetry(ctx context.Context, phase, name string, op func() error) error {
	max := r.Backoff.MaxAttempts
	if max < 1 {
		max = 1
	}
	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		class := model.ClassOf(lastErr)
		if !class.Retryable() || attempt == max {
			break
		}
		delay := r.Backoff.Delay(attempt, class)
		ui.PrintWarning(fmt.Sprintf("%s of %s failed (attempt %d/%d), retrying in %s: %v",
			phase, name, attempt, max, delay.Round(time.Second), lastErr))
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

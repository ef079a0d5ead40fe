package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stepyndriyy/yadisk-to-youtube/internal/model"
)

type fakeLister struct {
	items []model.TransferItem
	err   error
}

func (f *fakeLister) List(ctx context.Context) ([]model.TransferItem, error) {
	return f.items, f.err
}

type fakeFetcher struct {
	calls int
	fn    func(call int, item model.TransferItem, localPath string) (int64, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, item model.TransferItem, localPath string) (int64, error) {
	f.calls++
	return f.fn(f.calls, item, localPath)
}

type fakePublisher struct {
	calls int
	fn    func(call int, localPath, title, sourceName string) (string, error)
}

func (f *fakePublisher) Publish(ctx context.Context, localPath, title, sourceName string) (string, error) {
	f.calls++
	return f.fn(f.calls, localPath, title, sourceName)
}

type fakeLedger struct {
	entries  map[string]string // key -> video id
	onRecord func(key string)
	err      error
}

func newFakeLedger(keys ...string) *fakeLedger {
	l := &fakeLedger{entries: map[string]string{}}
	for _, k := range keys {
		l.entries[k] = "existing"
	}
	return l
}

func (l *fakeLedger) Contains(key string) bool { _, ok := l.entries[key]; return ok }

func (l *fakeLedger) Record(key, name, videoID string, completedAt time.Time) error {
	if l.err != nil {
		return l.err
	}
	if l.onRecord != nil {
		l.onRecord(key)
	}
	l.entries[key] = videoID
	return nil
}

// stageBytes simulates a successful download by writing size bytes to path.
func stageBytes(t *testing.T, path string, size int64) int64 {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("stage file: %v", err)
	}
	return size
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	list, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	var names []string
	for _, e := range list {
		names = append(names, e.Name())
	}
	return names
}

func item(id, name string, size int64) model.TransferItem {
	return model.TransferItem{ResourceID: id, Path: "/" + name, Name: name, SizeBytes: size}
}

// newTestRunner wires fakes into a runner with deterministic backoff and an
// instant sleep that records the requested delays.
func newTestRunner(t *testing.T, lister Lister, fetcher Fetcher, publisher Publisher, ledger Ledger) (*Runner, *[]time.Duration) {
	t.Helper()
	r := NewRunner(lister, fetcher, publisher, ledger)
	r.StagingDir = t.TempDir()
	r.Extensions = []string{".mov"}
	r.Backoff = Backoff{
		MaxAttempts: 3,
		Initial:     5 * time.Second,
		Cap:         60 * time.Second,
		QuotaMin:    60 * time.Second,
	}
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	r.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r, &slept
}

func okFetcher() *fakeFetcher {
	return &fakeFetcher{fn: func(call int, it model.TransferItem, path string) (int64, error) {
		f, err := os.Create(path)
		if err != nil {
			return 0, err
		}
		defer f.Close()
		if err := f.Truncate(it.SizeBytes); err != nil {
			return 0, err
		}
		return it.SizeBytes, nil
	}}
}

func okPublisher() *fakePublisher {
	return &fakePublisher{fn: func(call int, path, title, source string) (string, error) {
		return fmt.Sprintf("vid-%d", call), nil
	}}
}

func TestRunTransfersEverythingOnce(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{
		item("a1", "clip1.mov", 100),
		item("a2", "clip2.mov", 200),
	}}
	ledger := newFakeLedger()
	fetcher := okFetcher()
	r, _ := newTestRunner(t, lister, fetcher, okPublisher(), ledger)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Transferred != 2 || sum.Failed != 0 {
		t.Fatalf("transferred=%d failed=%d, want 2/0", sum.Transferred, sum.Failed)
	}
	if sum.Bytes != 300 {
		t.Errorf("bytes = %d, want 300", sum.Bytes)
	}
	if !ledger.Contains("a1") || !ledger.Contains("a2") {
		t.Error("both items should be in the ledger")
	}
	if left := dirEntries(t, r.StagingDir); len(left) != 0 {
		t.Errorf("staging dir not empty after clean run: %v", left)
	}

	// Second pass over the same listing touches nothing.
	fetchCalls := fetcher.calls
	sum2, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if sum2.Skipped != 2 || sum2.Transferred != 0 {
		t.Fatalf("second run skipped=%d transferred=%d, want 2/0", sum2.Skipped, sum2.Transferred)
	}
	if fetcher.calls != fetchCalls {
		t.Errorf("second run fetched %d more times, want 0", fetcher.calls-fetchCalls)
	}
}

func TestRunSkipsLedgeredItemsWithoutFetching(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{item("a1", "clip1.mov", 10)}}
	fetcher := &fakeFetcher{fn: func(int, model.TransferItem, string) (int64, error) {
		t.Fatal("fetch called for an already transferred item")
		return 0, nil
	}}
	r, _ := newTestRunner(t, lister, fetcher, okPublisher(), newFakeLedger("a1"))

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", sum.Skipped)
	}
}

func TestRunFiltersDisallowedExtensions(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{
		item("a1", "notes.txt", 10),
		item("a2", "clip.mov", 10),
	}}
	r, _ := newTestRunner(t, lister, okFetcher(), okPublisher(), newFakeLedger())

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Filtered != 1 || sum.Transferred != 1 {
		t.Fatalf("filtered=%d transferred=%d, want 1/1", sum.Filtered, sum.Transferred)
	}
}

func TestFetchRetriesWithGrowingDelays(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{item("a1", "clip.mov", 50)}}
	fetcher := &fakeFetcher{fn: func(call int, it model.TransferItem, path string) (int64, error) {
		if call < 3 {
			return 0, errors.New("connection reset")
		}
		f, _ := os.Create(path)
		f.Truncate(it.SizeBytes)
		f.Close()
		return it.SizeBytes, nil
	}}
	ledger := newFakeLedger()
	r, slept := newTestRunner(t, lister, fetcher, okPublisher(), ledger)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Transferred != 1 {
		t.Fatalf("transferred = %d, want 1", sum.Transferred)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch attempts = %d, want 3", fetcher.calls)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("recorded %d delays %v, want %d", len(*slept), *slept, len(want))
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("delay[%d] = %s, want %s", i, (*slept)[i], d)
		}
	}
}

func TestFetchGivesUpAfterAttemptBudget(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{item("a1", "clip.mov", 50)}}
	fetcher := &fakeFetcher{fn: func(int, model.TransferItem, string) (int64, error) {
		return 0, errors.New("timeout")
	}}
	ledger := newFakeLedger()
	r, _ := newTestRunner(t, lister, fetcher, okPublisher(), ledger)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run should complete despite item failure: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch attempts = %d, want exactly 3", fetcher.calls)
	}
	if sum.Failed != 1 || sum.Transferred != 0 {
		t.Fatalf("failed=%d transferred=%d, want 1/0", sum.Failed, sum.Transferred)
	}
	if ledger.Contains("a1") {
		t.Error("failed item must not be in the ledger")
	}
	if left := dirEntries(t, r.StagingDir); len(left) != 0 {
		t.Errorf("failed fetch left files behind: %v", left)
	}
	if st := sum.Results[0].State; st != model.StatePending {
		t.Errorf("state = %v, want pending (eligible next run)", st)
	}
}

func TestFetchSizeMismatchIsRetriedAndCleanedUp(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{item("a1", "clip.mov", 100)}}
	fetcher := &fakeFetcher{fn: func(call int, it model.TransferItem, path string) (int64, error) {
		// Short write every time: the transfer must notice and retry.
		return stageBytes(t, path, 40), nil
	}}
	r, _ := newTestRunner(t, lister, fetcher, okPublisher(), newFakeLedger())

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch attempts = %d, want 3", fetcher.calls)
	}
	if sum.Failed != 1 {
		t.Fatalf("failed = %d, want 1", sum.Failed)
	}
	if !errors.Is(sum.Results[0].Err, model.ErrSizeMismatch) {
		t.Errorf("err = %v, want size mismatch", sum.Results[0].Err)
	}
	if left := dirEntries(t, r.StagingDir); len(left) != 0 {
		t.Errorf("partial file left behind: %v", left)
	}
}

func TestPermanentItemErrorIsNotRetried(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{item("a1", "clip.mov", 50)}}
	fetcher := &fakeFetcher{fn: func(int, model.TransferItem, string) (int64, error) {
		return 0, model.ClassifiedF(model.ClassPermanentItem, "file no longer exists")
	}}
	r, slept := newTestRunner(t, lister, fetcher, okPublisher(), newFakeLedger())

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetch attempts = %d, want 1", fetcher.calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %v, want no delays", *slept)
	}
}

func TestPublishFailureLeavesStagingFile(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{
		item("a1", "clip1.mov", 10),
		item("a2", "clip2.mov", 20),
	}}
	publisher := &fakePublisher{fn: func(call int, path, title, source string) (string, error) {
		if source == "clip2.mov" {
			return "", model.ClassifiedF(model.ClassPermanentItem, "video rejected")
		}
		return "vid-1", nil
	}}
	ledger := newFakeLedger()
	r, _ := newTestRunner(t, lister, okFetcher(), publisher, ledger)

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run should complete: %v", err)
	}
	if !ledger.Contains("a1") {
		t.Error("clip1 should be in the ledger")
	}
	if ledger.Contains("a2") {
		t.Error("clip2 must not be in the ledger")
	}
	left := dirEntries(t, r.StagingDir)
	if len(left) != 1 || left[0] != "clip2.mov" {
		t.Fatalf("staging dir = %v, want only clip2.mov kept", left)
	}
	if sum.Transferred != 1 || sum.Failed != 1 {
		t.Errorf("transferred=%d failed=%d, want 1/1", sum.Transferred, sum.Failed)
	}
	if st := sum.Results[1].State; st != model.StateLocalFailure {
		t.Errorf("state = %v, want local failure", st)
	}
}

func TestQuotaFailureWaitsAtLeastQuotaFloor(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{item("a1", "clip.mov", 10)}}
	publisher := &fakePublisher{fn: func(call int, path, title, source string) (string, error) {
		if call == 1 {
			return "", model.ClassifiedF(model.ClassQuota, "daily quota exceeded")
		}
		return "vid-1", nil
	}}
	r, slept := newTestRunner(t, lister, okFetcher(), publisher, newFakeLedger())

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Transferred != 1 {
		t.Fatalf("transferred = %d, want 1", sum.Transferred)
	}
	if len(*slept) != 1 || (*slept)[0] < 60*time.Second {
		t.Errorf("slept %v, want a single delay of at least 60s", *slept)
	}
}

func TestLedgerIsWrittenBeforeStagingFileIsRemoved(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{item("a1", "clip.mov", 10)}}
	ledger := newFakeLedger()
	r, _ := newTestRunner(t, lister, okFetcher(), okPublisher(), ledger)
	ledger.onRecord = func(key string) {
		if _, err := os.Stat(filepath.Join(r.StagingDir, "clip.mov")); err != nil {
			t.Errorf("staging file gone before the ledger entry was written: %v", err)
		}
	}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if left := dirEntries(t, r.StagingDir); len(left) != 0 {
		t.Errorf("staging dir not cleaned after commit: %v", left)
	}
}

func TestLedgerWriteFailureKeepsFileAndAbortsRun(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{
		item("a1", "clip1.mov", 10),
		item("a2", "clip2.mov", 10),
	}}
	ledger := newFakeLedger()
	ledger.err = errors.New("disk full")
	r, _ := newTestRunner(t, lister, okFetcher(), okPublisher(), ledger)

	sum, err := r.Run(context.Background())
	if err == nil {
		t.Fatal("Run should fail when the ledger cannot be written")
	}
	if model.ClassOf(err) != model.ClassPermanentRun {
		t.Errorf("class = %v, want permanent-run", model.ClassOf(err))
	}
	// The upload was accepted, so the staged copy must survive.
	left := dirEntries(t, r.StagingDir)
	if len(left) != 1 || left[0] != "clip1.mov" {
		t.Errorf("staging dir = %v, want clip1.mov kept", left)
	}
	if len(sum.Results) != 1 {
		t.Errorf("processed %d items before aborting, want 1", len(sum.Results))
	}
}

func TestAtMostOneStagingFileAtAnyTime(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{
		item("a1", "clip1.mov", 10),
		item("a2", "clip2.mov", 10),
		item("a3", "clip3.mov", 10),
	}}
	var r *Runner
	fetcher := &fakeFetcher{fn: func(call int, it model.TransferItem, path string) (int64, error) {
		if left := dirEntries(t, r.StagingDir); len(left) != 0 {
			t.Errorf("staging dir contains %v before download of %s", left, it.Name)
		}
		return stageBytes(t, path, it.SizeBytes), nil
	}}
	r, _ = newTestRunner(t, lister, fetcher, okPublisher(), newFakeLedger())

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fetcher.calls != 3 {
		t.Errorf("fetch calls = %d, want 3", fetcher.calls)
	}
}

func TestDryRunTouchesNothing(t *testing.T) {
	lister := &fakeLister{items: []model.TransferItem{item("a1", "clip.mov", 10)}}
	fetcher := &fakeFetcher{fn: func(int, model.TransferItem, string) (int64, error) {
		t.Fatal("fetch called during dry run")
		return 0, nil
	}}
	ledger := newFakeLedger()
	r, _ := newTestRunner(t, lister, fetcher, okPublisher(), ledger)
	r.DryRun = true

	sum, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Transferred != 0 || sum.Failed != 0 {
		t.Errorf("dry run transferred=%d failed=%d, want 0/0", sum.Transferred, sum.Failed)
	}
	if len(ledger.entries) != 0 {
		t.Error("dry run modified the ledger")
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lister := &fakeLister{items: []model.TransferItem{
		item("a1", "clip1.mov", 10),
		item("a2", "clip2.mov", 10),
	}}
	fetcher := &fakeFetcher{fn: func(call int, it model.TransferItem, path string) (int64, error) {
		cancel() // interrupt after the first download starts
		return stageBytes(t, path, it.SizeBytes), nil
	}}
	ledger := newFakeLedger()
	r, _ := newTestRunner(t, lister, fetcher, okPublisher(), ledger)

	_, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.calls)
	}
}

func TestRunFailsWhenListingFails(t *testing.T) {
	lister := &fakeLister{err: model.ClassifiedF(model.ClassPermanentRun, "folder not found")}
	r, _ := newTestRunner(t, lister, okFetcher(), okPublisher(), newFakeLedger())

	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("Run should fail when the listing fails")
	}
}

func TestBackoffDelayDoublesUpToCap(t *testing.T) {
	b := Backoff{MaxAttempts: 5, Initial: 5 * time.Second, Cap: 60 * time.Second}
	wants := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, want := range wants {
		if got := b.Delay(i+1, model.ClassTransient); got != want {
			t.Errorf("Delay(%d) = %s, want %s", i+1, got, want)
		}
	}
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	b := Backoff{Initial: 10 * time.Second, Cap: 60 * time.Second, Jitter: 0.2}
	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		b.rnd = func() float64 { return r }
		d := b.Delay(1, model.ClassTransient)
		if d < 8*time.Second || d > 12*time.Second {
			t.Errorf("rnd=%v: delay %s outside [8s, 12s]", r, d)
		}
	}
}

func TestBackoffQuotaFloorAppliesAfterJitter(t *testing.T) {
	b := Backoff{Initial: 5 * time.Second, Cap: 60 * time.Second, QuotaMin: 60 * time.Second, Jitter: 0.2}
	b.rnd = func() float64 { return 0 } // worst-case downward jitter
	if d := b.Delay(1, model.ClassQuota); d < 60*time.Second {
		t.Errorf("quota delay %s below the 60s floor", d)
	}
	if d := b.Delay(1, model.ClassTransient); d >= 60*time.Second {
		t.Errorf("transient delay %s should not be floored", d)
	}
}

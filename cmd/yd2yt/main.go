// Command yd2yt moves the contents of a public Yandex Disk folder to a
// YouTube channel, one file at a time. Completed transfers are recorded in a
// local ledger so interrupted runs pick up where they left off.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/stepyndriyy/yadisk-to-youtube/internal/api"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/config"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/ledger"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/model"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/notify"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/transfer"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/ui"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/yadisk"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/youtube"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, args, err := config.ParseCfg()
	if err != nil {
		ui.PrintError(err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args.AuthURL || args.AuthCode != "" {
		return runAuth(ctx, cfg, args)
	}

	var apiLog *api.Log
	if cfg.APILogPath != "" {
		apiLog, err = api.OpenLog(cfg.APILogPath)
		if err != nil {
			ui.PrintWarning(fmt.Sprintf("API log disabled: %v", err))
		} else {
			defer apiLog.Close()
		}
	}

	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	listGw := api.NewGateway(api.Options{Service: "yadisk", Timeout: timeout, Log: apiLog})
	// Downloads stream for as long as the file is large; the request context
	// bounds them instead of a client timeout.
	dlGw := api.NewGateway(api.Options{Service: "yadisk-download", Timeout: -1, Log: apiLog})

	if yadisk.ExtractPublicKey(cfg.YandexPublicURL) == "" {
		ui.PrintError(fmt.Sprintf("Unrecognized Yandex Disk public URL: %s", cfg.YandexPublicURL))
		return 1
	}
	source := yadisk.New(cfg.YandexPublicURL, listGw, dlGw, yadisk.WithToken(cfg.YandexOauthToken))

	var publisher transfer.Publisher
	if !args.DryRun {
		ocfg, err := youtube.LoadOAuthConfig(cfg.YoutubeClientSecrets)
		if err != nil {
			ui.PrintError(err.Error())
			return 1
		}
		ts, err := youtube.TokenSource(ctx, ocfg, cfg.YoutubeTokenFile)
		if err != nil {
			ui.PrintError(err.Error())
			return 1
		}
		ytGw := api.NewGateway(api.Options{Service: "youtube", Timeout: timeout, Log: apiLog})
		up := youtube.NewUploader(ytGw, ts,
			youtube.WithChunkSize(int64(cfg.UploadChunkMiB)<<20),
			youtube.WithPrivacy(cfg.Privacy),
			youtube.WithCategory(cfg.CategoryID),
		)
		publisher = &uploadAdapter{up: up}
	}

	if dir := filepath.Dir(cfg.LedgerPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			ui.PrintError(fmt.Sprintf("Cannot create ledger directory: %v", err))
			return 1
		}
	}
	if err := os.MkdirAll(cfg.StagingDir, 0755); err != nil {
		ui.PrintError(fmt.Sprintf("Cannot create staging directory: %v", err))
		return 1
	}

	lock, err := ledger.AcquireLock(cfg.LedgerPath+".lock", 3)
	if err != nil {
		ui.PrintError(err.Error())
		return 1
	}
	defer lock.Release()

	led, err := ledger.Load(cfg.LedgerPath, ui.PrintWarning)
	if err != nil {
		ui.PrintError(fmt.Sprintf("Cannot load ledger: %v", err))
		return 1
	}
	if led.Len() > 0 {
		ui.PrintInfo(fmt.Sprintf("Ledger lists %d completed transfer(s)", led.Len()))
	}

	runner := transfer.NewRunner(source, &fetchAdapter{src: source}, publisher, led)
	runner.StagingDir = cfg.StagingDir
	runner.Extensions = cfg.Extensions
	runner.DryRun = args.DryRun
	runner.Backoff = transfer.Backoff{
		MaxAttempts: cfg.MaxAttempts,
		Initial:     time.Duration(cfg.InitialBackoffSec) * time.Second,
		Cap:         time.Duration(cfg.MaxBackoffSec) * time.Second,
		QuotaMin:    time.Duration(cfg.QuotaBackoffSec) * time.Second,
		Jitter:      0.2,
	}

	ui.PrintHeader("Yandex Disk -> YouTube")
	sum, runErr := runner.Run(ctx)
	if sum != nil {
		printSummary(sum)
		sendNotification(cfg, sum, runErr)
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			ui.PrintWarning("Interrupted")
		} else {
			ui.PrintError(runErr.Error())
		}
		return 1
	}
	if sum != nil && sum.Failed > 0 {
		return 1
	}
	return 0
}

// runAuth handles the two credential bootstrap invocations: printing the
// consent URL, and exchanging the pasted code for a stored token.
func runAuth(ctx context.Context, cfg *model.Config, args *model.Args) int {
	ocfg, err := youtube.LoadOAuthConfig(cfg.YoutubeClientSecrets)
	if err != nil {
		ui.PrintError(err.Error())
		return 1
	}
	if args.AuthURL {
		ui.PrintInfo("Open this URL in a browser, approve access, then rerun with --auth-code <code>:")
		fmt.Println(youtube.AuthCodeURL(ocfg))
		return 0
	}
	if err := youtube.ExchangeAndSave(ctx, ocfg, args.AuthCode, cfg.YoutubeTokenFile); err != nil {
		ui.PrintError(err.Error())
		return 1
	}
	ui.PrintSuccess(fmt.Sprintf("Token saved to %s", cfg.YoutubeTokenFile))
	return 0
}

// fetchAdapter renders download progress while streaming through the source
// client.
type fetchAdapter struct {
	src *yadisk.Client
}

func (a *fetchAdapter) Fetch(ctx context.Context, item model.TransferItem, localPath string) (int64, error) {
	n, err := a.src.Fetch(ctx, item, localPath, func(downloaded, total, speed int64) {
		renderBar(downloaded, total, speed, ui.ColorCyan)
	})
	ui.ProgressDone()
	return n, err
}

// uploadAdapter renders upload progress around the YouTube uploader.
type uploadAdapter struct {
	up *youtube.Uploader
}

func (a *uploadAdapter) Publish(ctx context.Context, localPath, title, sourceName string) (string, error) {
	req := youtube.Request{LocalPath: localPath, Title: title, SourceName: sourceName}
	id, err := a.up.Publish(ctx, req, func(uploaded, total, speed int64) {
		renderBar(uploaded, total, speed, ui.ColorPurple)
	})
	ui.ProgressDone()
	return id, err
}

func renderBar(done, total, speed int64, color string) {
	pct := 0
	if total > 0 {
		pct = int(float64(done) / float64(total) * 100)
	}
	ui.RenderProgress("", pct,
		humanize.Bytes(uint64(speed))+"/s",
		humanize.Bytes(uint64(done)),
		humanize.Bytes(uint64(total)),
		color)
}

func printSummary(sum *transfer.Summary) {
	ui.PrintHeader("Transfer Summary")
	ui.PrintInfo(fmt.Sprintf("Listed: %d  Skipped: %d  Filtered: %d", sum.Listed, sum.Skipped, sum.Filtered))
	if sum.Transferred > 0 {
		ui.PrintSuccess(fmt.Sprintf("Uploaded %d file(s), %s in %s",
			sum.Transferred, humanize.Bytes(uint64(sum.Bytes)), sum.Elapsed.Round(time.Second)))
	}
	for _, res := range sum.Results {
		if res.State == model.StateLocalFailure {
			ui.PrintWarning(fmt.Sprintf("%s left on disk after upload failure", res.Item.Name))
		}
	}
	if sum.Failed > 0 {
		ui.PrintError(fmt.Sprintf("%d file(s) failed", sum.Failed))
	}
}

func sendNotification(cfg *model.Config, sum *transfer.Summary, runErr error) {
	if cfg.GotifyURL == "" || cfg.GotifyToken == "" {
		return
	}
	title := "yd2yt: transfer complete"
	priority := notify.PriorityNormal
	if runErr != nil || sum.Failed > 0 {
		title = "yd2yt: transfer finished with errors"
		priority = notify.PriorityHigh
	}
	msg := fmt.Sprintf("uploaded %d, skipped %d, failed %d (%s)",
		sum.Transferred, sum.Skipped, sum.Failed, humanize.Bytes(uint64(sum.Bytes)))
	if runErr != nil {
		msg += "\n" + runErr.Error()
	}

	nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := notify.Send(nctx, cfg.GotifyURL, cfg.GotifyToken, title, msg, priority); err != nil {
		ui.PrintWarning(err.Error())
	}
}

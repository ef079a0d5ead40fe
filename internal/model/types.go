// Package model holds the shared types passed between the transfer engine,
// the API clients, and the CLI surface.
package model

// Config is the persisted configuration, read from config.json.
type Config struct {
	YandexPublicURL  string `json:"yandexPublicUrl"`
	YandexOauthToken string `json:"yandexOauthToken,omitempty"`

	YoutubeClientSecrets string `json:"youtubeClientSecrets"`
	YoutubeTokenFile     string `json:"youtubeTokenFile,omitempty"`
	Privacy              string `json:"privacy,omitempty"`
	CategoryID           string `json:"categoryId,omitempty"`

	LedgerPath string   `json:"ledgerPath,omitempty"`
	StagingDir string   `json:"stagingDir,omitempty"`
	Extensions []string `json:"extensions,omitempty"`

	MaxAttempts       int `json:"maxAttempts,omitempty"`
	InitialBackoffSec int `json:"initialBackoffSec,omitempty"`
	MaxBackoffSec     int `json:"maxBackoffSec,omitempty"`
	QuotaBackoffSec   int `json:"quotaBackoffSec,omitempty"`
	RequestTimeoutSec int `json:"requestTimeoutSec,omitempty"`
	UploadChunkMiB    int `json:"uploadChunkMiB,omitempty"`

	APILogPath string `json:"apiLogPath,omitempty"`

	GotifyURL   string `json:"gotifyUrl,omitempty"`
	GotifyToken string `json:"gotifyToken,omitempty"`
}

// Args holds parsed CLI arguments.
type Args struct {
	PublicURL string `arg:"positional" help:"Yandex Disk public folder URL (overrides yandexPublicUrl from config)."`
	Ext       string `arg:"-e,--ext" help:"Comma-separated extension filter, e.g. \".mov,.mp4\". Default from config (\".mov\")."`
	DryRun    bool   `arg:"--dry-run" help:"List what would be transferred and exit without downloading anything."`
	AuthURL   bool   `arg:"--auth-url" help:"Print the YouTube OAuth consent URL and exit."`
	AuthCode  string `arg:"--auth-code" help:"Exchange an OAuth authorization code for a token, save it, and exit."`
	Ledger    string `arg:"--ledger" help:"Path to the transfer ledger file."`
	Staging   string `arg:"-o,--staging" help:"Directory for the temporary staging file. Created if missing."`
}

// TransferItem is one unit of work produced by the source listing.
// It is rebuilt fresh on every run and never persisted; only its outcome
// (a ledger entry) survives.
type TransferItem struct {
	// ResourceID is the stable Yandex identifier. May be empty on very old
	// shares; Key() falls back to Path in that case.
	ResourceID string
	// Path is the item's path inside the public folder, used to resolve
	// the download href.
	Path string
	// Name is the display filename, used as the destination title
	// (extension stripped) and as the staging filename.
	Name string
	// SizeBytes is the size reported by the listing, used to validate a
	// completed download. Zero means unknown.
	SizeBytes int64
}

// Key returns the de-duplication key for the item.
func (it TransferItem) Key() string {
	if it.ResourceID != "" {
		return it.ResourceID
	}
	return it.Path
}

// ItemState is the per-run lifecycle state of a transfer item.
type ItemState int

const (
	StatePending ItemState = iota
	StateFetching
	StateFetched
	StatePublishing
	StateCommitted
	StateLocalFailure // terminal: staging file left on disk for manual recovery
)

func (s ItemState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateFetched:
		return "fetched"
	case StatePublishing:
		return "publishing"
	case StateCommitted:
		return "committed"
	case StateLocalFailure:
		return "local-failure"
	default:
		return "unknown"
	}
}

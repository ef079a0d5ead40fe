// Package config loads config.json, parses CLI arguments, and resolves the
// two into the settings the transfer runs with.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/alexflint/go-arg"

	"github.com/stepyndriyy/yadisk-to-youtube/internal/helpers"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/model"
	"github.com/stepyndriyy/yadisk-to-youtube/internal/ui"
)

// LoadedConfigPath tracks which config file was loaded.
var LoadedConfigPath string

const (
	DefaultPrivacy     = "public"
	DefaultCategoryID  = "22" // People & Blogs
	DefaultMaxAttempts = 3
)

// ParseCfg reads config, parses CLI args, and returns the resolved Config.
func ParseCfg() (*model.Config, *model.Args, error) {
	cfg, err := ReadConfig()
	if err != nil {
		return nil, nil, err
	}
	args := ParseArgs()
	if err := Resolve(cfg, args); err != nil {
		return nil, nil, err
	}
	return cfg, args, nil
}

// Resolve overlays CLI arguments onto cfg, fills defaults and validates.
// Split out of ParseCfg so tests can drive it without a real command line.
func Resolve(cfg *model.Config, args *model.Args) error {
	if args.PublicURL != "" {
		cfg.YandexPublicURL = args.PublicURL
	}
	if args.Ledger != "" {
		cfg.LedgerPath = args.Ledger
	}
	if args.Staging != "" {
		cfg.StagingDir = args.Staging
	}
	if args.Ext != "" {
		cfg.Extensions = strings.Split(args.Ext, ",")
	}

	cfg.YandexPublicURL = strings.TrimSpace(cfg.YandexPublicURL)
	if cfg.YandexPublicURL == "" && !args.AuthURL && args.AuthCode == "" {
		return errors.New("no public folder URL: pass it as an argument or set yandexPublicUrl in config.json")
	}

	if strings.TrimSpace(cfg.YoutubeClientSecrets) == "" {
		cfg.YoutubeClientSecrets = "client_secret.json"
	}
	if strings.TrimSpace(cfg.YoutubeTokenFile) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.YoutubeTokenFile = filepath.Join(home, ".yd2yt", "youtube_token.json")
	}

	if cfg.LedgerPath == "" {
		cfg.LedgerPath = "transferred.json"
	}
	if cfg.StagingDir == "" {
		cfg.StagingDir = "staging"
	}
	cfg.Extensions = helpers.NormalizeExtensions(cfg.Extensions)
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".mov"}
	}

	if cfg.Privacy == "" {
		cfg.Privacy = DefaultPrivacy
	}
	switch cfg.Privacy {
	case "public", "unlisted", "private":
	default:
		return fmt.Errorf("invalid privacy %q (must be public, unlisted, or private)", cfg.Privacy)
	}
	if cfg.CategoryID == "" {
		cfg.CategoryID = DefaultCategoryID
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialBackoffSec <= 0 {
		cfg.InitialBackoffSec = 5
	}
	if cfg.MaxBackoffSec <= 0 {
		cfg.MaxBackoffSec = 60
	}
	if cfg.QuotaBackoffSec <= 0 {
		cfg.QuotaBackoffSec = 60
	}
	if cfg.MaxBackoffSec < cfg.InitialBackoffSec {
		return fmt.Errorf("maxBackoffSec (%d) must be at least initialBackoffSec (%d)", cfg.MaxBackoffSec, cfg.InitialBackoffSec)
	}
	if cfg.RequestTimeoutSec <= 0 {
		cfg.RequestTimeoutSec = 30
	}
	if cfg.UploadChunkMiB <= 0 {
		cfg.UploadChunkMiB = 8
	}
	return nil
}

// ReadConfig reads the config file from known locations. A missing config
// file is not an error: every setting has a default or a CLI override.
func ReadConfig() (*model.Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPaths := []string{
		"config.json",
		filepath.Join(homeDir, ".yd2yt", "config.json"),
		filepath.Join(homeDir, ".config", "yd2yt", "config.json"),
	}

	var data []byte
	var configPath string

	for _, path := range configPaths {
		data, err = os.ReadFile(path)
		if err == nil {
			configPath = path
			break
		}
	}

	if data == nil {
		return &model.Config{}, nil
	}

	var obj model.Config
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to parse config at %s: %w", configPath, err)
	}

	LoadedConfigPath = configPath

	// The config may hold a Yandex OAuth token; keep it private to the user.
	fileInfo, err := os.Stat(configPath)
	if err == nil {
		mode := fileInfo.Mode()
		if mode.Perm()&0077 != 0 {
			fmt.Fprintf(os.Stderr, "%s WARNING: Config file has insecure permissions (%04o)\n", ui.ColorYellow+ui.SymbolWarning+ui.ColorReset, mode.Perm())
			fmt.Fprintf(os.Stderr, "   File: %s\n", configPath)
			if runtime.GOOS != "windows" {
				if chmodErr := os.Chmod(configPath, 0600); chmodErr != nil {
					fmt.Fprintf(os.Stderr, "   Auto-fix failed: %v\n", chmodErr)
					fmt.Fprintf(os.Stderr, "   Fix manually: chmod 600 %s\n\n", configPath)
				} else {
					fmt.Fprintf(os.Stderr, "   Auto-fix applied: chmod 600 %s\n\n", configPath)
				}
			} else {
				fmt.Fprintf(os.Stderr, "   Windows ACLs in use; skipping chmod auto-fix\n\n")
			}
		}
	}

	return &obj, nil
}

// ParseArgs parses CLI arguments using go-arg.
func ParseArgs() *model.Args {
	var args model.Args
	arg.MustParse(&args)
	return &args
}

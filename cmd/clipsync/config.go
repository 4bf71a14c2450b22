package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipsync/internal/logging"
)

const (
	envPrefix  = "CLIPSYNC"
	configName = "clipsync"
)

// configDirs lists the directories searched for clipsync.toml, lowest
// priority first.
func configDirs() []string {
	dirs := []string{"/etc/clipsync"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "clipsync"))
	}
	return dirs
}

// bindViper layers a command's settings:
//
//	defaults → config file → CLIPSYNC_* env vars → flags
//
// A missing config file is not an error; a malformed one is.
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("toml")
		for _, dir := range configDirs() {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("config: %w", err)
		}
	}

	// min-compress-size → CLIPSYNC_MIN_COMPRESS_SIZE
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

func addLoggingFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("no-background", false, "run interactively: tinter logs + debug level")
	f.String("log-format", string(logging.FormatAuto), "log format: auto|text|json")
	f.String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// setupLogging installs the default logger from the logging flags. An
// interactive session defaults to debug level.
func setupLogging(v *viper.Viper) *slog.Logger {
	level := slog.LevelInfo
	if v.GetBool("no-background") || logging.IsTTY(os.Stderr) {
		level = slog.LevelDebug
	}
	return logging.Setup(
		logging.ParseFormat(v.GetString("log-format")),
		logging.ParseLevel(v.GetString("log-level"), level),
	)
}

// Command bluescan runs one time-bounded Bluetooth scan session and prints
// the deduplicated device registry it observed, either as human-readable
// text or as a machine-parsable JSON stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bluescan/internal/codec"
	"bluescan/internal/config"
	"bluescan/internal/history"
	"bluescan/internal/present"
	"bluescan/internal/session"
	"bluescan/internal/source"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: search standard locations)")
	duration := flag.Int("duration", 0, "scan duration in seconds (default: config, then 15)")
	channel := flag.String("channel", "", "discovery channel: dbus or bluetoothctl (default: config, then dbus)")
	adapterName := flag.String("adapter", "", "bluetooth adapter short name (default: config, then hci0)")
	machine := flag.Bool("machine", false, "emit one JSON record per observation instead of human output")
	exportPath := flag.String("export", "", "write the final summary to this file (.json, .yaml or .yml)")
	historyPath := flag.String("history", "", "append the session to this SQLite journal")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	// All diagnostics go to stderr; stdout belongs to the presenter.
	level := zerolog.InfoLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	if err := run(log, runOptions{
		configPath:  *configPath,
		duration:    *duration,
		channel:     *channel,
		adapter:     *adapterName,
		machine:     *machine,
		exportPath:  *exportPath,
		historyPath: *historyPath,
	}); err != nil {
		log.Error().Err(err).Msg("scan failed")
		os.Exit(1)
	}
}

type runOptions struct {
	configPath  string
	duration    int
	channel     string
	adapter     string
	machine     bool
	exportPath  string
	historyPath string
}

func run(log zerolog.Logger, opts runOptions) error {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if cfgPath != "" {
		log.Debug().Str("path", cfgPath).Msg("loaded config")
	}

	// Flags override the config file.
	if opts.duration != 0 {
		cfg.Scan.DurationSeconds = opts.duration
	}
	if opts.channel != "" {
		cfg.Scan.Channel = opts.channel
	}
	if opts.adapter != "" {
		cfg.Adapter = opts.adapter
	}
	if opts.machine {
		cfg.Scan.Machine = true
	}
	if opts.exportPath != "" {
		cfg.Export.Path = opts.exportPath
	}
	if opts.historyPath != "" {
		cfg.History.Path = opts.historyPath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var src source.Source
	switch cfg.Scan.Channel {
	case config.ChannelDBus:
		src = source.NewDBusSource(cfg.Adapter, log)
	case config.ChannelBluetoothctl:
		src = source.NewCtlSource(cfg.Bluetoothctl.Path, log)
	}

	var pres present.Presenter
	if cfg.Scan.Machine {
		pres = present.NewMachine(os.Stdout)
	} else {
		pres = present.NewHuman(os.Stdout)
	}

	// An export target must be usable before we spend the scan budget.
	var exporter codec.Exporter
	if cfg.Export.Path != "" {
		exporter, err = codec.ForPath(cfg.Export.Path)
		if err != nil {
			return err
		}
	}

	// SIGINT/SIGTERM converge on the same stop path as the deadline.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess := session.New(src, pres, cfg.Duration(), log)
	result, err := sess.Run(ctx)
	if err != nil {
		return err
	}
	if result.StopErr != nil {
		log.Warn().Err(result.StopErr).Msg("channel stop reported an error")
	}

	if exporter != nil {
		if err := exportSummary(exporter, cfg.Export.Path, result); err != nil {
			return err
		}
		log.Info().Str("path", cfg.Export.Path).Str("format", exporter.Format()).Msg("summary exported")
	}

	if cfg.History.Path != "" {
		if err := journalSession(ctx, cfg.History.Path, result); err != nil {
			// The scan itself succeeded; a journal failure is not fatal.
			log.Warn().Err(err).Msg("history journal update failed")
		}
	}

	return nil
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func exportSummary(exporter codec.Exporter, path string, result *session.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	if err := exporter.Export(result.Records, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func journalSession(ctx context.Context, path string, result *session.Result) error {
	j, err := history.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	// The run context may already be cancelled by the signal that ended
	// the scan; give the journal write its own small budget.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err = j.Record(writeCtx, result.Channel, result.StartedAt, result.Elapsed, result.Records)
	return err
}

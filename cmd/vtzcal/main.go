package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"vtzcal/internal/config"
	"vtzcal/internal/export"
	"vtzcal/internal/ics"
	appLog "vtzcal/internal/log"
	"vtzcal/internal/tzdb"
	"vtzcal/internal/vtimezone"
	"vtzcal/internal/web"
)

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	encoder    string
	zone       string
	from       string
	to         string
	out        string
	once       bool
}

func main() {
	flags := parseFlags()
	if err := run(flags); err != nil {
		appLog.Error("vtzcal failed", err)
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	pflag.StringVarP(&cfg.configPath, "config", "c", "/etc/vtzcal/config.yaml", "Path to config file")
	pflag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	pflag.StringVarP(&cfg.logLevel, "log-level", "l", "", "Log level: debug, info, warn or error")
	pflag.StringVarP(&cfg.encoder, "encoder", "e", "", "iCalendar encoder: golang-ical or go-ical")
	pflag.StringVarP(&cfg.zone, "zone", "z", "", "Print the VTIMEZONE of this zone and exit")
	pflag.StringVar(&cfg.from, "from", "", "Window start for --zone (RFC 3339, default now)")
	pflag.StringVar(&cfg.to, "to", "", "Window end for --zone (RFC 3339, default now)")
	pflag.StringVarP(&cfg.out, "out", "o", "", "Output file (--zone: default stdout; --once: default config output)")
	pflag.BoolVar(&cfg.once, "once", false, "Run one export and exit")

	pflag.Parse()
	return cfg
}

func run(flags flagConfig) error {
	conf, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", flags.configPath, err)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if flags.encoder != "" {
		conf.Encoder = flags.encoder
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	enc, err := ics.NewEncoder(conf.Encoder, conf.ProductID)
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"encoder", conf.Encoder,
		"zoneinfo_dirs", len(conf.ZoneInfoDirs),
		"custom_zones", conf.CustomZonesFile,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"feeds", len(conf.Feeds),
		"once", flags.once,
		"zone", flags.zone,
	)

	db := tzdb.New(conf.ZoneInfoDirs, conf.Until())
	if conf.CustomZonesFile != "" {
		if err := db.LoadCustomFile(conf.CustomZonesFile); err != nil {
			return fmt.Errorf("load custom zones: %w", err)
		}
	}

	if flags.zone != "" {
		return printZone(db, enc, flags)
	}

	exp := &export.Exporter{
		Fetcher:   ics.NewFetcher(conf.CacheDir, 0),
		DB:        db,
		Feeds:     conf.ICSFeeds(),
		Encoder:   enc,
		ProductID: conf.ProductID,
		Horizon:   conf.Horizon(),
		Backfill:  conf.Backfill(),
		Pad:       conf.Pad(),
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if flags.once {
		out := conf.Output
		if flags.out != "" {
			out = flags.out
		}
		return runExport(ctx, exp, out)
	}

	if err := runExport(ctx, exp, conf.Output); err != nil {
		appLog.Error("initial export failed; serving without export until next refresh", err)
	}

	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if err := runExport(ctx, exp, conf.Output); err != nil {
			appLog.Error("scheduled export failed", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule refresh: %w", err)
	}
	c.Start()
	defer func() {
		<-c.Stop().Done()
	}()

	err = web.NewServer(conf, db, exp).ListenAndServe(ctx)
	appLog.Info("vtzcal exiting")
	return err
}

func runExport(ctx context.Context, exp *export.Exporter, out string) error {
	start := time.Now()
	res, err := exp.Run(ctx)
	if err != nil {
		return err
	}
	if err := res.WriteFile(out); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	appLog.Info("export written", "path", out, "zones", len(res.Zones), "skipped", len(res.Skipped), "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func printZone(db *tzdb.Database, enc ics.Encoder, flags flagConfig) error {
	var win vtimezone.Window
	var err error
	if win.First, err = parseWindowFlag("from", flags.from); err != nil {
		return err
	}
	if win.Last, err = parseWindowFlag("to", flags.to); err != nil {
		return err
	}

	tz, err := vtimezone.BuildNamed(db, flags.zone, vtimezone.BuildConfig{Window: win})
	if err != nil {
		return err
	}
	if flags.out == "" {
		return enc.Encode(os.Stdout, tz)
	}
	return writeZone(flags.out, enc, tz)
}

var createFile = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// writeZone encodes tz into a new file at path. The close error is
// returned when encoding succeeded.
func writeZone(path string, enc ics.Encoder, tz *vtimezone.Timezone) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	if err := enc.Encode(f, tz); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func parseWindowFlag(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

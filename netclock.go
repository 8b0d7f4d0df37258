// netclock time service

package main

import (
	"bytes"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"example.com/netclock/benchmark"

	"example.com/netclock/base/zaplog"

	"example.com/netclock/core/assoc"
	"example.com/netclock/core/config"
	"example.com/netclock/core/event"
	"example.com/netclock/core/fallback"
	"example.com/netclock/core/sync"
	"example.com/netclock/core/timebase"

	"example.com/netclock/driver/clock"
	ntpd "example.com/netclock/driver/ntp"
)

type svcConfig struct {
	HostListFile            string `toml:"host_list_file,omitempty"`
	FallbackStoreFile       string `toml:"fallback_store_file,omitempty"`
	MetricsAddr             string `toml:"metrics_address,omitempty"`
	SyncIntervalSeconds     int    `toml:"sync_interval_seconds,omitempty"`
	UseSavedOffsetOnNoTrust bool   `toml:"use_saved_offset_on_no_trust,omitempty"`
	ResyncOnClockChange     bool   `toml:"resync_on_clock_change,omitempty"`
}

var (
	log *zap.Logger
)

func initLogger(verbose bool) {
	c := zap.NewDevelopmentConfig()
	c.DisableStacktrace = true
	c.EncoderConfig.EncodeCaller = func(
		caller zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		p := caller.TrimmedPath()
		if len(p) > 30 {
			p = "..." + p[len(p)-27:]
		}
		enc.AppendString(fmt.Sprintf("%30s", p))
	}
	if !verbose {
		c.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	var err error
	log, err = c.Build()
	if err != nil {
		panic(err)
	}
	zaplog.SetLogger(log)
}

func runMonitor(log *zap.Logger, addr string) {
	http.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, nil)
	log.Fatal("failed to serve metrics", zap.Error(err))
}

func loadConfig(configFile string) svcConfig {
	raw, err := os.ReadFile(configFile)
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	var cfg svcConfig
	err = toml.NewDecoder(bytes.NewReader(raw)).DisallowUnknownFields().Decode(&cfg)
	if err != nil {
		log.Fatal("failed to decode configuration", zap.Error(err))
	}
	return cfg
}

func runDaemon(configFile string) {
	var cfg svcConfig
	if configFile != "" {
		cfg = loadConfig(configFile)
	}

	lclk := &clock.SystemClock{Log: log}
	timebase.RegisterClock(lclk)

	storePath := cfg.FallbackStoreFile
	if storePath == "" {
		storePath = config.DefaultFallbackStoreFile
	}
	store, err := fallback.NewFileStore(storePath)
	if err != nil {
		log.Fatal("failed to open fallback store",
			zap.String("path", storePath), zap.Error(err))
	}

	hosts := assoc.LoadHostList(log, cfg.HostListFile)

	bus := event.NewBus()
	pool := &assoc.Pool{
		Log: log,
		NewAssociation: func(address string) assoc.Association {
			return ntpd.NewClient(log, address)
		},
	}
	s := sync.NewSynchronizer(log, lclk, pool, store, bus, hosts, sync.Options{
		UseSavedOffsetOnNoTrust: cfg.UseSavedOffsetOnNoTrust,
		ResyncOnClockChange:     cfg.ResyncOnClockChange,
	})

	if cfg.ResyncOnClockChange {
		clock.StartWatch(log, bus)
	}

	interval := config.DefaultSyncInterval
	if cfg.SyncIntervalSeconds > 0 {
		interval = time.Duration(cfg.SyncIntervalSeconds) * time.Second
	}

	completed, cancel := bus.Subscribe(event.TopicSyncCompleted)
	defer cancel()
	go func() {
		for range completed {
			log.Info("network time available",
				zap.Float64("offset [s]", s.CurrentOffset()),
				zap.Time("network time", s.NetworkNow()),
			)
		}
	}()

	s.Synchronize()
	go func() {
		for {
			lclk.Sleep(interval)
			s.Synchronize()
		}
	}()

	metricsAddr := cfg.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = config.DefaultMetricsAddr
	}
	runMonitor(log, metricsAddr)
}

func runTool(remoteAddr string) {
	offset, dispersion, err := ntpd.MeasureOffset(log, remoteAddr, 0)
	if err != nil {
		log.Fatal("failed to measure clock offset",
			zap.String("to", remoteAddr), zap.Error(err))
	}
	log.Info("measured clock offset",
		zap.String("to", remoteAddr),
		zap.Float64("offset [s]", offset),
		zap.Float64("dispersion [s]", dispersion),
	)
}

func runBenchmark(remoteAddr string) {
	lclk := &clock.SystemClock{Log: zap.NewNop()}
	timebase.RegisterClock(lclk)
	benchmark.RunBenchmark(remoteAddr)
}

func exitWithUsage() {
	fmt.Println("<usage>")
	os.Exit(1)
}

func main() {
	var (
		verbose    bool
		configFile string
		remoteAddr string
	)

	daemonFlags := flag.NewFlagSet("daemon", flag.ExitOnError)
	toolFlags := flag.NewFlagSet("tool", flag.ExitOnError)
	benchmarkFlags := flag.NewFlagSet("benchmark", flag.ExitOnError)

	daemonFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	daemonFlags.StringVar(&configFile, "config", "", "Config file")

	toolFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	toolFlags.StringVar(&remoteAddr, "remote", "", "Remote address")

	benchmarkFlags.BoolVar(&verbose, "verbose", false, "Verbose logging")
	benchmarkFlags.StringVar(&remoteAddr, "remote", "", "Remote address")

	if len(os.Args) < 2 {
		exitWithUsage()
	}

	switch os.Args[1] {
	case daemonFlags.Name():
		err := daemonFlags.Parse(os.Args[2:])
		if err != nil || daemonFlags.NArg() != 0 {
			exitWithUsage()
		}
		initLogger(verbose)
		runDaemon(configFile)
	case toolFlags.Name():
		err := toolFlags.Parse(os.Args[2:])
		if err != nil || toolFlags.NArg() != 0 {
			exitWithUsage()
		}
		if remoteAddr == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runTool(remoteAddr)
	case benchmarkFlags.Name():
		err := benchmarkFlags.Parse(os.Args[2:])
		if err != nil || benchmarkFlags.NArg() != 0 {
			exitWithUsage()
		}
		if remoteAddr == "" {
			exitWithUsage()
		}
		initLogger(verbose)
		runBenchmark(remoteAddr)
	default:
		exitWithUsage()
	}
}

// Command playback replays a recorded network against a positioning engine
// and writes the computed locations next to the recorded data.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaonanln/wpeplayback/config"
	"github.com/xiaonanln/wpeplayback/netlock"
	"github.com/xiaonanln/wpeplayback/network"
	"github.com/xiaonanln/wpeplayback/playback"
	"github.com/xiaonanln/wpeplayback/results"
	"github.com/xiaonanln/wpeplayback/statusserver"
	"github.com/xiaonanln/wpeplayback/transport"
	"github.com/xiaonanln/wpeplayback/util/logger"
	"github.com/xiaonanln/wpeplayback/util/postgres"
	"github.com/xiaonanln/wpeplayback/util/uniqueid"
)

const clientIDPrefix = "wpe-playback"

type flags struct {
	configuration string
	folderPath    string
	logLevel      string
	logFile       string
	maxInflight   int
	timeoutS      float64
	strictPublish bool
	set           map[string]bool
}

func parseFlags(args []string, output io.Writer) (*flags, error) {
	f := &flags{set: make(map[string]bool)}
	fs := flag.NewFlagSet("playback", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.configuration, "configuration", "", "Path to the YAML or JSON configuration file (required)")
	fs.StringVar(&f.folderPath, "folder_path", "wpeapt_data", "Folder holding the recorded data")
	fs.StringVar(&f.logLevel, "log_level", "info", "Log level: debug, info, warning, error or critical")
	fs.StringVar(&f.logFile, "log_file", "playback.log", "File receiving a copy of the log (empty disables it)")
	fs.IntVar(&f.maxInflight, "wpe_max_inflight_messages", playback.DefaultMaxInflight, "Maximum number of requests awaiting a response")
	fs.Float64Var(&f.timeoutS, "timeout_s", playback.DefaultTimeout.Seconds(), "Seconds to wait for each phase (negative waits forever)")
	fs.BoolVar(&f.strictPublish, "strict_publish", false, "Fail as soon as the broker rejects a request")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	if f.configuration == "" {
		return nil, fmt.Errorf("--configuration is required")
	}
	if f.maxInflight <= 0 {
		return nil, fmt.Errorf("--wpe_max_inflight_messages must be positive")
	}
	return f, nil
}

// applyOverrides lets explicit flags win over the configuration file.
func (f *flags) applyOverrides(cfg *config.Config) {
	if f.set["wpe_max_inflight_messages"] {
		cfg.Playback.MaxInflightMessages = f.maxInflight
	}
	if f.set["timeout_s"] {
		cfg.Playback.TimeoutS = f.timeoutS
	}
	if f.set["strict_publish"] {
		cfg.Playback.StrictPublish = f.strictPublish
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "playback: %v\n", err)
		return 1
	}

	level, err := logger.ParseLevel(f.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "playback: %v\n", err)
		return 1
	}
	logger.SetDefaultLevel(level)
	if f.logFile != "" {
		logFile, err := os.OpenFile(f.logFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "playback: failed to open log file: %v\n", err)
			return 1
		}
		defer logFile.Close()
		logger.SetDefaultOutput(io.MultiWriter(os.Stdout, logFile))
	}
	log := logger.NewLogger("Main")

	cfg, err := config.LoadConfig(f.configuration)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		return 1
	}
	f.applyOverrides(cfg)

	netcfg, err := network.LoadConfiguration(network.ConfigurationPath(f.folderPath))
	if err != nil {
		log.Errorf("Failed to load network configuration: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := cfg.PlaybackOptions()
	sinks := results.MultiSink{results.NewFileSink(f.folderPath)}

	if cfg.Postgres != nil {
		db, err := openDatabase(ctx, cfg.Postgres)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		defer db.Close()
		sinks = append(sinks, results.NewPostgresSink(db))
	}
	opts.Persister = sinks

	if cfg.Etcd != nil {
		cli, err := netlock.Connect(ctx, cfg.Etcd.Endpoints)
		if err != nil {
			log.Errorf("%v", err)
			return 2
		}
		defer cli.Close()
		locker, err := netlock.NewEtcdLocker(cli, cfg.Etcd.Prefix, cfg.Etcd.LockTTLS)
		if err != nil {
			log.Errorf("%v", err)
			return 1
		}
		opts.Locker = locker
	}

	if cfg.Status != nil {
		status := statusserver.New(statusserver.Config{GRPCAddr: cfg.Status.GRPCAddr, HTTPAddr: cfg.Status.HTTPAddr})
		if err := status.Start(); err != nil {
			log.Errorf("Failed to start status server: %v", err)
			return 1
		}
		defer status.Stop()
		opts.Observers = append(opts.Observers, status)
	}

	mqttOpts, err := cfg.MQTTOptions(uniqueid.ClientID(clientIDPrefix))
	if err != nil {
		log.Errorf("Invalid MQTT settings: %v", err)
		return 1
	}
	bus, err := transport.NewMQTTBus(mqttOpts)
	if err != nil {
		log.Errorf("Invalid MQTT settings: %v", err)
		return 1
	}

	p, err := playback.New(bus, netcfg, opts)
	if err != nil {
		bus.Close()
		log.Errorf("%v", err)
		return 1
	}

	start := time.Now()
	log.Infof("Starting playback of network %d from %s against %s", p.NetworkID(), f.folderPath, bus.Address())
	err = p.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			log.Warnf("Playback interrupted in state %s", p.State())
		}
		return playback.ExitCode(err)
	}
	log.Infof("Playback of network %d finished in %v: %d locations", p.NetworkID(), time.Since(start).Round(time.Millisecond), len(p.Results()))
	return 0
}

func openDatabase(ctx context.Context, cfg *postgres.Config) (*postgres.DB, error) {
	db, err := postgres.NewDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise database schema: %w", err)
	}
	return db, nil
}

// SPDX-License-Identifier: GPL-2.0-only

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"

	"github.com/bwiersma/usbip-bridge/bridge"
	"github.com/bwiersma/usbip-bridge/dialect"
	"github.com/bwiersma/usbip-bridge/executor"
	"github.com/bwiersma/usbip-bridge/probe"
	"github.com/bwiersma/usbip-bridge/sshx"
	"github.com/bwiersma/usbip-bridge/store"
)

const (
	logLevelAll   = "all"
	logLevelDebug = "debug"
	logLevelInfo  = "info"
	logLevelWarn  = "warn"
	logLevelError = "error"
	logLevelNone  = "none"
)

var (
	availableLogLevels = strings.Join([]string{
		logLevelAll,
		logLevelDebug,
		logLevelInfo,
		logLevelWarn,
		logLevelError,
		logLevelNone,
	}, ", ")
)

// Main is the principal function for the binary, wrapped only by `main` for convenience.
func Main() error {
	if err := initConfig(); err != nil {
		return err
	}

	host := viper.GetString("host")
	if host != "" && !dialect.ValidHost(host) {
		return fmt.Errorf("failed to parse host %q: not an IP address or DNS name", host)
	}

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logLevel := viper.GetString("log-level")
	switch logLevel {
	case logLevelAll:
		logger = level.NewFilter(logger, level.AllowAll())
	case logLevelDebug:
		logger = level.NewFilter(logger, level.AllowDebug())
	case logLevelInfo:
		logger = level.NewFilter(logger, level.AllowInfo())
	case logLevelWarn:
		logger = level.NewFilter(logger, level.AllowWarn())
	case logLevelError:
		logger = level.NewFilter(logger, level.AllowError())
	case logLevelNone:
		logger = level.NewFilter(logger, level.AllowNone())
	default:
		return fmt.Errorf("log level %v unknown; possible values are: %s", logLevel, availableLogLevels)
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	if _, err := exec.LookPath("usbip"); err != nil {
		return errors.Wrap(err, "usbip tool not found; install the usbip client package")
	}

	stateDir := viper.GetString("state-dir")
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return errors.Wrapf(err, "creating state directory %s", stateDir)
	}
	docs, err := store.OpenSQLite(filepath.Join(stateDir, "state.db"), log.With(logger, "component", "store"))
	if err != nil {
		return errors.Wrap(err, "opening state database")
	}
	defer func() { _ = docs.Close() }()

	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	secret := viper.GetString("sudo-password")
	intents := store.NewIntentStore(docs)
	descs := store.NewDescriptionStore(docs)
	hosts := store.NewHostList(docs)
	local := &executor.Local{Secret: secret, Logger: log.With(logger, "component", "executor")}
	sessions := sshx.NewManager(log.With(logger, "component", "ssh"))
	defer sessions.Close()

	engine := &bridge.Engine{
		Local:    local,
		Mappings: store.NewMappingStore(docs),
		Intents:  intents,
		Cache:    descs,
		Logger:   log.With(logger, "component", "engine"),
	}
	grace := bridge.NewGracePeriod()
	metrics := bridge.NewMetrics(prometheus.WrapRegistererWithPrefix("usbip_bridge_", r))
	svc := &bridge.Service{
		Engine:   engine,
		Intents:  intents,
		Mappings: engine.Mappings,
		Descs:    descs,
		Hosts:    hosts,
		Prefs:    store.NewSSHPrefStore(docs),
		Local:    local,
		Remote:   sessions,
		Grace:    grace,
		Logger:   log.With(logger, "component", "service"),
		Metrics:  metrics,
		Secret:   secret,
	}
	svc.Recon = &bridge.Reconnector{
		Engine:   engine,
		Intents:  intents,
		Actions:  svc,
		Grace:    grace,
		HasCreds: sessions.HasCredentials,
		Notify: func(text string) {
			_ = logger.Log("msg", text)
		},
		Logger:  log.With(logger, "component", "reconnect"),
		Metrics: metrics,
	}

	if host == "" {
		known := hosts.Hosts()
		if len(known) == 0 {
			return fmt.Errorf("no host given and none stored; pass --host to add one")
		}
		host = known[0]
	} else if err := hosts.Add(host); err != nil {
		return errors.Wrapf(err, "storing host %s", host)
	}

	if viper.GetBool("once") {
		rows, err := svc.GetDeviceView(context.Background(), host)
		if err != nil {
			return errors.Wrapf(err, "building device view for %s", host)
		}
		for _, row := range rows {
			fmt.Printf("%-12s attached=%-5v auto=%-5v %s\n", row.BusID, row.Attached, row.AutoEnabled, row.Description)
		}
		return nil
	}

	{
		// Probe the daemon port once at startup so an unreachable host is
		// visible immediately instead of on the first failed attach.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		devices, err := probe.Exported(ctx, host)
		cancel()
		if err != nil {
			level.Warn(logger).Log("msg", "USB/IP daemon probe failed", "host", host, "err", err)
		} else {
			_ = logger.Log("msg", "USB/IP daemon reachable", "host", host, "exported", len(devices))
		}
	}

	settings := intents.Settings()

	var g run.Group
	{
		// Run the HTTP server.
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.Handle("/metrics", promhttp.HandlerFor(r, promhttp.HandlerOpts{}))
		listen := viper.GetString("listen")
		l, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %v", listen, err)
		}

		g.Add(func() error {
			if err := http.Serve(l, mux); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server exited unexpectedly: %v", err)
			}
			return nil
		}, func(error) {
			_ = l.Close()
		})
	}

	{
		// Exit gracefully on SIGINT and SIGTERM.
		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
		cancel := make(chan struct{})
		g.Add(func() error {
			for {
				select {
				case <-term:
					_ = logger.Log("msg", "caught interrupt; gracefully cleaning up; see you next time!")
					return nil
				case <-cancel:
					return nil
				}
			}
		}, func(error) {
			close(cancel)
		})
	}

	{
		// Periodic auto-reconnect scan for the selected host.
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			_ = logger.Log("msg", fmt.Sprintf("Starting the auto-reconnect scan for %s.", host),
				"interval", settings.ScanInterval())
			ticker := time.NewTicker(settings.ScanInterval())
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					svc.OnTick(ctx, host)
				case <-ctx.Done():
					return nil
				}
			}
		}, func(error) {
			cancel()
		})
	}

	if settings.AutoRefreshEnabled {
		// Periodic device view refresh, keeping the metrics current.
		ctx, cancel := context.WithCancel(context.Background())
		interval := time.Duration(settings.AutoRefreshInterval) * time.Second
		g.Add(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if _, err := svc.GetDeviceView(ctx, host); err != nil {
						level.Warn(logger).Log("msg", "device view refresh failed", "err", err)
					}
				case <-ctx.Done():
					return nil
				}
			}
		}, func(error) {
			cancel()
		})
	}

	return g.Run()
}

func main() {
	if err := Main(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Execution failed: %v\n", err)
		os.Exit(1)
	}
}

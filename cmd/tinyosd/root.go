// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tinyos/tinyos3/boot"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "tinyosd",
	Short: "Boot the TinyOS kernel core and run it until interrupted.",
	Long: `tinyosd assembles the scheduler, the root VFS, the memfs and
devfs drivers, and the metrics registry, then enters the per-core
scheduler loop until interrupted.`,
	RunE: runDaemon,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int("cores", 4, "number of simulated CPU cores")
	flags.Duration("quantum", 50*time.Millisecond, "per-thread scheduling quantum")
	flags.Int64("max-open-files", 1024, "system-wide open-file ceiling (ENFILE)")
	flags.StringSlice("devices", []string{"null", "clock", "serial", "info"}, "device names pre-published into devfs at boot")
	flags.String("metrics-addr", ":9110", "address to serve /metrics on")
	flags.String("log-level", "info", "logrus level: debug, info, warn, error")

	for _, name := range []string{"cores", "quantum", "max-open-files", "devices", "metrics-addr", "log-level"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := logrus.NewEntry(logrus.StandardLogger())
	if lvl, err := logrus.ParseLevel(v.GetString("log-level")); err == nil {
		logrus.SetLevel(lvl)
	}

	cfg := boot.Config{
		NumCores:     v.GetInt("cores"),
		Quantum:      v.GetDuration("quantum"),
		MaxOpenFiles: v.GetInt64("max-open-files"),
		DevfsDevices: v.GetStringSlice("devices"),
	}

	registry := prometheus.NewRegistry()
	kernel, err := boot.New(cfg, log, registry)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: v.GetString("metrics-addr"), Handler: mux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server exited")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.WithFields(logrus.Fields{"cores": cfg.NumCores, "quantum": cfg.Quantum}).Info("booting tinyos kernel")
	runErr := kernel.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err := kernel.Shutdown(); err != nil {
		log.WithError(err).Error("unmount errors during shutdown")
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

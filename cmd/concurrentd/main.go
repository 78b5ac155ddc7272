/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command concurrentd runs the concurrent static-file HTTP server. One
// invocation of this binary plays one of two roles depending on the
// CONCURRENTD_ROLE environment variable: with it unset, this process
// is the master acceptor; with it set to "worker" (set only by the
// master's own re-exec of itself), this process is a worker reading
// its IPC channel and shared statistics mapping off inherited file
// descriptors 3 and 4, and its ServerConfig off CONCURRENTD_CONFIG_JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nabbar/concurrent-httpd/config"
	"github.com/nabbar/concurrent-httpd/internal/corelog"
	"github.com/nabbar/concurrent-httpd/internal/master"
	"github.com/nabbar/concurrent-httpd/internal/worker"
)

func main() {
	if os.Getenv(master.RoleEnvVar) == master.RoleWorker {
		if err := runWorker(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the cobra CLI surface: one flag per
// config.ServerConfig field, all optional, filled in from
// config.Default where left unset.
func newRootCommand() *cobra.Command {
	cfg := config.Default()
	var configFile string

	cmd := &cobra.Command{
		Use:   "concurrentd",
		Short: "Concurrent static-file HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				fileCfg, ferr := config.LoadFile(configFile)
				if ferr != nil {
					return ferr
				}
				cfg = fileCfg
			}
			return runMaster(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "YAML configuration file (overrides the flags below)")
	flags.IntVar(&cfg.Port, "port", cfg.Port, "TCP port to listen on")
	flags.IntVar(&cfg.NumWorkers, "num-workers", cfg.NumWorkers, "number of worker processes")
	flags.IntVar(&cfg.ThreadsPerWorker, "threads-per-worker", cfg.ThreadsPerWorker, "goroutines per worker process")
	flags.IntVar(&cfg.MaxQueueSize, "max-queue-size", cfg.MaxQueueSize, "pending-connection queue size per worker")
	flags.StringVar(&cfg.DocumentRoot, "document-root", cfg.DocumentRoot, "static file document root")
	flags.StringVar(&cfg.AccessLog, "log-file", cfg.AccessLog, "access log file path")
	flags.IntVar(&cfg.CacheSizeMB, "cache-size-mb", cfg.CacheSizeMB, "per-worker in-memory file cache budget, in MiB")
	flags.DurationVar(&cfg.ReadTimeout, "timeout-seconds", cfg.ReadTimeout, "read timeout for the first request on a connection")
	flags.DurationVar(&cfg.KeepAliveTimeout, "keep-alive-timeout", cfg.KeepAliveTimeout, "read timeout for subsequent keep-alive requests")
	flags.IntVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "prometheus /metrics port, 0 to disable")

	return cmd
}

// runMaster validates the assembled configuration, builds the master,
// and runs it until shutdown. Worker processes are re-exec'd with the
// master's resolved configuration carried in full over
// master.ConfigEnvVar, so every worker gets byte-identical
// configuration regardless of how this process was invoked.
func runMaster(cfg config.ServerConfig) error {
	cfg = config.ApplyDefaults(cfg)
	if verr := cfg.Validate(); verr != nil {
		return verr
	}

	log := corelog.New(os.Stdout, logrus.InfoLevel, "master")

	m, merr := master.New(cfg, log)
	if merr != nil {
		return merr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Run(ctx); err != nil {
		return err
	}

	return nil
}

// runWorker maps this process's inherited file descriptors and runs
// the worker bootstrap. Its ServerConfig comes from master.ConfigEnvVar,
// set by the master's re-exec, not from re-parsing argv.
func runWorker() error {
	encoded := os.Getenv(master.ConfigEnvVar)
	if encoded == "" {
		return fmt.Errorf("missing %s environment variable for worker process", master.ConfigEnvVar)
	}

	var cfg config.ServerConfig
	if err := json.Unmarshal([]byte(encoded), &cfg); err != nil {
		return fmt.Errorf("invalid %s environment variable: %w", master.ConfigEnvVar, err)
	}

	ipcFile := os.NewFile(3, "concurrentd-ipc-worker")
	statsFile := os.NewFile(4, "concurrentd-stats-worker")

	log := corelog.New(os.Stdout, logrus.InfoLevel, fmt.Sprintf("worker-%d", os.Getpid()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received SIGTERM")
	}()

	if err := worker.Run(cfg, ipcFile, statsFile, log); err != nil {
		return err
	}

	return nil
}

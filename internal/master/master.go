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

// Package master implements the acceptor process: it owns the
// listening socket, the shared statistics region, and one IPC channel
// per worker. It never parses a byte of HTTP itself - every accepted
// connection's file descriptor is handed off to a worker over that
// worker's channel, round-robin, within a few instructions of being
// accepted.
package master

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	libatm "github.com/nabbar/concurrent-httpd/atomic"
	"github.com/nabbar/concurrent-httpd/config"
	"github.com/nabbar/concurrent-httpd/internal/corelog"
	"github.com/nabbar/concurrent-httpd/internal/ipc"
	"github.com/nabbar/concurrent-httpd/internal/stats"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	ErrorMasterStats = liberr.MinPkgMaster + 20 + iota
	ErrorMasterWorkerSpawn
)

func init() {
	liberr.RegisterIdFctMessage(ErrorMasterStats, getMasterMessage)
}

func getMasterMessage(code liberr.CodeError) string {
	switch code {
	case ErrorMasterStats:
		return "could not initialize shared statistics region"
	case ErrorMasterWorkerSpawn:
		return "could not spawn a worker process"
	}
	return liberr.NullMessage
}

// workerSlot is everything the master keeps about one spawned worker:
// its process handle and its end of the dedicated IPC channel.
type workerSlot struct {
	cmd *exec.Cmd
	ch  *ipc.Channel
}

// Master runs the accept/dispatch loop for the server's lifetime.
type Master struct {
	cfg config.ServerConfig
	log *corelog.Logger

	ln net.Listener

	statsFile *os.File
	region    *stats.Region
	registry  *stats.Registry
	promReg   *prometheus.Registry

	workers []*workerSlot
	nextIdx uint64

	// running mirrors the original master's volatile sig_atomic_t
	// keep_running flag. The signal handler flips it to false before
	// closing the listener, so a connection accepted in the narrow
	// window between the signal and the close is still rejected by
	// acceptLoop instead of being dispatched to a worker that may
	// already be shutting down.
	running libatm.Value[bool]

	metricsSrv  *http.Server
	stopMonitor chan struct{}
}

// New wires up the shared statistics region, the prometheus registry
// and the listening socket, but does not yet spawn workers or start
// accepting - call Run for that.
func New(cfg config.ServerConfig, log *corelog.Logger) (*Master, liberr.Error) {
	statsFile, serr := stats.CreateRegionFile()
	if serr != nil {
		return nil, liberr.New(ErrorMasterStats, "failed to create shared region", serr)
	}

	region, merr := stats.MapRegion(statsFile)
	if merr != nil {
		_ = statsFile.Close()
		return nil, liberr.New(ErrorMasterStats, "failed to map shared region", merr)
	}

	promReg := prometheus.NewRegistry()
	registry := stats.NewRegistry(promReg)

	ln, lerr := newListener(cfg.Port)
	if lerr != nil {
		_ = statsFile.Close()
		return nil, lerr
	}

	m := &Master{
		cfg:         cfg,
		log:         log,
		ln:          ln,
		statsFile:   statsFile,
		region:      region,
		registry:    registry,
		promReg:     promReg,
		running:     libatm.NewValue[bool](),
		stopMonitor: make(chan struct{}),
	}
	m.running.Store(true)

	return m, nil
}

// Run spawns cfg.NumWorkers worker processes, starts the statistics
// monitor and (if configured) the /metrics listener, then blocks
// accepting and dispatching connections until a SIGINT/SIGTERM arrives
// or ctx is canceled. It returns after every worker has exited and
// every resource has been released.
func (m *Master) Run(ctx context.Context) liberr.Error {
	for i := 0; i < m.cfg.NumWorkers; i++ {
		if err := m.spawnOne(i); err != nil {
			m.log.WithError(err).Errorf("failed to spawn worker %d", i)
			return err
		}
	}
	m.log.Infof("%d worker processes started", len(m.workers))

	go stats.Monitor(m.region, m.registry, 5*time.Second, m.log, m.stopMonitor)

	if m.cfg.MetricsPort > 0 {
		m.startMetrics()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		m.acceptLoop()
	}()

	select {
	case sig := <-sigCh:
		m.log.Infof("received signal %s, shutting down", sig)
	case <-ctx.Done():
		m.log.Info("context canceled, shutting down")
	case <-acceptDone:
		m.log.Warn("accept loop exited unexpectedly")
	}

	return m.shutdown()
}

// spawnOne creates one worker's IPC channel and re-execs the current
// binary to run it, recording the resulting process and channel.
func (m *Master) spawnOne(index int) liberr.Error {
	masterCh, workerFile, ierr := ipc.NewPair()
	if ierr != nil {
		return liberr.New(ErrorMasterWorkerSpawn, "failed to create IPC channel", ierr)
	}

	cmd, serr := spawnWorker(workerFile, m.statsFile, m.cfg)
	_ = workerFile.Close()
	if serr != nil {
		_ = masterCh.Close()
		return serr
	}

	m.log.WithField("worker", index).WithField("pid", cmd.Process.Pid).Info("worker process started")
	m.workers = append(m.workers, &workerSlot{cmd: cmd, ch: masterCh})
	return nil
}

// acceptLoop accepts connections until the listener is closed by
// shutdown, dispatching each to a worker round-robin.
func (m *Master) acceptLoop() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		m.dispatch(conn)
	}
}

// dispatch hands conn's file descriptor to the next worker in
// round-robin order. A send failure (the worker has died) logs and
// drops the connection rather than retrying against a second worker:
// the spec's queueing/backpressure story lives inside each worker, not
// across them.
func (m *Master) dispatch(conn net.Conn) {
	n := len(m.workers)
	if n == 0 || !m.running.Load() {
		_ = conn.Close()
		return
	}

	idx := atomic.AddUint64(&m.nextIdx, 1) % uint64(n)
	slot := m.workers[idx]

	if err := slot.ch.Send(conn); err != nil {
		m.log.WithError(err).Warn("failed to dispatch connection to worker")
	}
}

// startMetrics launches the prometheus exposition endpoint on
// cfg.MetricsPort. It runs until shutdown calls metricsSrv.Shutdown.
func (m *Master) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.promReg, promhttp.HandlerOpts{}))

	m.metricsSrv = &http.Server{
		Addr:    net.JoinHostPort("", strconv.Itoa(m.cfg.MetricsPort)),
		Handler: mux,
	}

	go func() {
		if err := m.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.WithError(err).Error("metrics listener failed")
		}
	}()
}

// shutdown closes the listener, tells every worker to stop by closing
// its IPC channel, waits for each worker process to exit, stops the
// statistics monitor, and shuts down the metrics listener.
func (m *Master) shutdown() liberr.Error {
	m.running.Store(false)
	_ = m.ln.Close()

	for _, w := range m.workers {
		_ = w.ch.Close()
	}

	for _, w := range m.workers {
		_ = w.cmd.Wait()
	}

	close(m.stopMonitor)

	if m.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.metricsSrv.Shutdown(ctx)
	}

	_ = m.statsFile.Close()

	m.log.Info("server stopped")
	return nil
}

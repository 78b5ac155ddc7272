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

package master

import (
	"encoding/json"
	"os"
	"os/exec"

	"github.com/nabbar/concurrent-httpd/config"
	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	ErrorSpawnExecutable = liberr.MinPkgMaster + iota
	ErrorSpawnStart
	ErrorSpawnConfigEncode
)

func init() {
	liberr.RegisterIdFctMessage(ErrorSpawnExecutable, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorSpawnExecutable:
		return "could not resolve the running executable for worker re-exec"
	case ErrorSpawnStart:
		return "could not start worker process"
	case ErrorSpawnConfigEncode:
		return "could not encode configuration for worker re-exec"
	}
	return liberr.NullMessage
}

// RoleEnvVar marks a re-exec'd process as a worker rather than the
// master that spawned it. The Go runtime has no fork(2): a worker
// cannot come into being as a copy of the master's already-running
// goroutines and heap, so master spawns a fresh copy of its own binary
// instead and tells it, via this environment variable, to run the
// worker bootstrap instead of the master bootstrap.
const RoleEnvVar = "CONCURRENTD_ROLE"

// RoleWorker is the RoleEnvVar value cmd/concurrentd checks for before
// dispatching to the worker entry point.
const RoleWorker = "worker"

// ConfigEnvVar carries the master's already-resolved ServerConfig (post
// LoadFile/ApplyDefaults/Validate) to the worker as JSON, rather than
// letting the worker re-derive it by re-parsing argv. Re-parsing argv
// only works for flags both sides register identically and breaks the
// moment a flag like --config resolves to values no flag on the
// command line spells out; shipping the resolved struct sidesteps that
// entirely; every worker gets byte-identical configuration to the
// master that spawned it.
const ConfigEnvVar = "CONCURRENTD_CONFIG_JSON"

// ipcFD and statsFD are the ExtraFiles indices (offset by the three
// standard descriptors every process already has) a worker reads its
// inherited IPC channel and shared statistics mapping from. Both ends
// of the convention - here and in the worker bootstrap - must agree
// on these without any type information crossing the exec boundary.
const (
	ipcFD   = 3
	statsFD = 4
)

// spawnWorker re-execs the current binary as a worker process, handing
// it ipcEnd (the worker's side of its dedicated IPC socketpair) and
// statsFile (the shared statistics mapping) as inherited file
// descriptors 3 and 4, and cfg (the master's already-resolved
// configuration) as ConfigEnvVar-encoded JSON. Stdout/stderr are
// inherited so worker log lines interleave with the master's on the
// controlling terminal.
func spawnWorker(ipcEnd, statsFile *os.File, cfg config.ServerConfig) (*exec.Cmd, liberr.Error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, liberr.New(ErrorSpawnExecutable, "os.Executable failed", err)
	}

	encoded, err := json.Marshal(cfg)
	if err != nil {
		return nil, liberr.New(ErrorSpawnConfigEncode, "json.Marshal of config failed", err)
	}

	cmd := exec.Command(exe)
	cmd.Env = append(os.Environ(), RoleEnvVar+"="+RoleWorker, ConfigEnvVar+"="+string(encoded))
	cmd.ExtraFiles = []*os.File{ipcEnd, statsFile}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, liberr.New(ErrorSpawnStart, "failed to start re-exec'd worker", err)
	}

	return cmd, nil
}

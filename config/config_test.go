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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate_RejectsBadPort(t *testing.T) {
	c := Default()
	c.Port = 0
	require.Error(t, c.Validate())
}

func TestApplyDefaults_FillsOnlyZeroFields(t *testing.T) {
	c := ServerConfig{Port: 9999}
	c = ApplyDefaults(c)

	require.Equal(t, 9999, c.Port)
	require.Equal(t, Default().NumWorkers, c.NumWorkers)
	require.Equal(t, Default().DocumentRoot, c.DocumentRoot)
}

func TestLoadFile_ParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "concurrentd.yaml")

	body := "port: 8081\nnum_workers: 2\nthreads_per_worker: 2\nmax_queue_size: 8\n" +
		"document_root: ./www\naccess_log: ./access.log\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 8081, c.Port)
	require.Equal(t, 2, c.NumWorkers)
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

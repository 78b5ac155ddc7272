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

	"gopkg.in/yaml.v3"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

// LoadFile reads a YAML config file from path, applies Default for any
// zero-valued field and validates the result. Loading a config file is
// a convenience for cmd/concurrentd, not a core requirement: the core
// itself only ever consumes an already-validated ServerConfig value.
func LoadFile(path string) (ServerConfig, liberr.Error) {
	var c ServerConfig

	raw, err := os.ReadFile(path)
	if err != nil {
		return c, liberr.New(ErrorConfigLoadFile, "cannot read configuration file", err)
	}

	if err = yaml.Unmarshal(raw, &c); err != nil {
		return c, liberr.New(ErrorConfigLoadFile, "cannot parse configuration file", err)
	}

	c = ApplyDefaults(c)

	if e := c.Validate(); e != nil {
		return c, e
	}

	return c, nil
}

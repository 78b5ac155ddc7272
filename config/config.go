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

// Package config holds the frozen ServerConfig value consumed by every
// other package in this module. Building the value (flags, env, file)
// is the caller's job - cmd/concurrentd does it with cobra flags and a
// LoadFile fallback; this package only defines the shape, its defaults
// and its validation.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	ErrorConfigValidate = liberr.MinPkgConfig + iota
	ErrorConfigLoadFile
)

func init() {
	liberr.RegisterIdFctMessage(ErrorConfigValidate, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorConfigValidate:
		return "configuration failed validation"
	case ErrorConfigLoadFile:
		return "could not load configuration file"
	}
	return liberr.NullMessage
}

// ServerConfig is the frozen value the master, workers and handler
// pipeline consume. Every field is read-only from the core's point of
// view once Validate has passed; nothing in this module mutates it.
type ServerConfig struct {
	Port int `mapstructure:"port" json:"port" yaml:"port" validate:"gt=0,lt=65536"`

	NumWorkers       int `mapstructure:"num_workers" json:"num_workers" yaml:"num_workers" validate:"gt=0"`
	ThreadsPerWorker int `mapstructure:"threads_per_worker" json:"threads_per_worker" yaml:"threads_per_worker" validate:"gt=0"`
	MaxQueueSize     int `mapstructure:"max_queue_size" json:"max_queue_size" yaml:"max_queue_size" validate:"gt=0"`

	DocumentRoot string `mapstructure:"document_root" json:"document_root" yaml:"document_root" validate:"required"`
	AccessLog    string `mapstructure:"access_log" json:"access_log" yaml:"access_log" validate:"required"`

	CacheSizeMB int `mapstructure:"cache_size_mb" json:"cache_size_mb" yaml:"cache_size_mb" validate:"gte=0"`

	IdleTimeout      time.Duration `mapstructure:"idle_timeout" json:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" json:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	KeepAliveTimeout time.Duration `mapstructure:"keep_alive_timeout" json:"keep_alive_timeout" yaml:"keep_alive_timeout" validate:"gte=0"`

	// MetricsPort serves the prometheus /metrics exposition on the
	// master process. Zero disables it: not every deployment wants a
	// second listening port.
	MetricsPort int `mapstructure:"metrics_port" json:"metrics_port" yaml:"metrics_port" validate:"gte=0,lt=65536"`
}

// Default returns a ServerConfig with the same fallback values
// config.c applies when a field is left at its zero value, so a
// sparsely populated config still validates.
func Default() ServerConfig {
	return ServerConfig{
		Port:             8080,
		NumWorkers:       4,
		ThreadsPerWorker: 4,
		MaxQueueSize:     64,
		DocumentRoot:     "./www",
		AccessLog:        "./logs/access.log",
		CacheSizeMB:      16,
		IdleTimeout:      60 * time.Second,
		ReadTimeout:      5 * time.Second,
		KeepAliveTimeout: 5 * time.Second,
		MetricsPort:      9100,
	}
}

// ApplyDefaults fills zero-valued fields of c with Default's values
// and returns the result; c itself is left untouched.
func ApplyDefaults(c ServerConfig) ServerConfig {
	d := Default()

	if c.Port == 0 {
		c.Port = d.Port
	}
	if c.NumWorkers == 0 {
		c.NumWorkers = d.NumWorkers
	}
	if c.ThreadsPerWorker == 0 {
		c.ThreadsPerWorker = d.ThreadsPerWorker
	}
	if c.MaxQueueSize == 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.DocumentRoot == "" {
		c.DocumentRoot = d.DocumentRoot
	}
	if c.AccessLog == "" {
		c.AccessLog = d.AccessLog
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.KeepAliveTimeout == 0 {
		c.KeepAliveTimeout = d.KeepAliveTimeout
	}

	return c
}

// Validate runs struct-tag validation over c and returns an
// errors.Error chaining one parent per failed constraint.
func (c ServerConfig) Validate() liberr.Error {
	val := validator.New()
	err := val.Struct(c)

	if err == nil {
		return nil
	}

	if e, ok := err.(*validator.InvalidValidationError); ok {
		return liberr.New(ErrorConfigValidate, "invalid validation target", e)
	}

	out := liberr.New(ErrorConfigValidate, "configuration failed validation")

	for _, e := range err.(validator.ValidationErrors) {
		out.Add(fmt.Errorf("field %q fails constraint %q", e.Field(), e.ActualTag()))
	}

	return out
}

// CacheBytes returns the per-worker cache budget in bytes.
func (c ServerConfig) CacheBytes() int64 {
	return int64(c.CacheSizeMB) * 1024 * 1024
}

// Copyright 2018 The Ember Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package base holds process-wide configuration knobs for the execution
// engine. Values are read from the environment once at startup; anything
// richer (config files, flags) belongs to the server layer, not here.
package base

import (
	"os"
	"strconv"
	"time"
)

// Defaults for the execution knobs.
const (
	// DefaultStatusReportInterval is how often a running fragment instance
	// reports its profile to the coordinator. Zero or negative disables
	// periodic reporting; the final report is always sent.
	DefaultStatusReportInterval = 5 * time.Second

	// DefaultBatchSize is the row capacity of an execution batch.
	DefaultBatchSize = 1024

	// DefaultMemLimit is the per-instance memory budget when the query
	// options don't set one.
	DefaultMemLimit = 2 << 30 // 2 GiB

	// DefaultExchangeBufSize is the receive-queue depth, in batches, of an
	// exchange node.
	DefaultExchangeBufSize = 16
)

// Config collects the execution knobs consumed by the fragment executor and
// the runtime state.
type Config struct {
	// StatusReportInterval is the reporter's emission period.
	StatusReportInterval time.Duration

	// BatchSize is the number of rows per batch.
	BatchSize int

	// MemLimit is the fallback per-instance memory limit in bytes.
	MemLimit int64

	// ExchangeBufSize is the exchange receive-queue depth in batches.
	ExchangeBufSize int
}

// DefaultConfig returns the config with defaults applied and environment
// overrides folded in.
func DefaultConfig() Config {
	return Config{
		StatusReportInterval: envDuration("EMBER_STATUS_REPORT_INTERVAL", DefaultStatusReportInterval),
		BatchSize:            envInt("EMBER_BATCH_SIZE", DefaultBatchSize),
		MemLimit:             envInt64("EMBER_MEM_LIMIT_BYTES", DefaultMemLimit),
		ExchangeBufSize:      envInt("EMBER_EXCHANGE_BUF_SIZE", DefaultExchangeBufSize),
	}
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

func envInt64(name string, def int64) int64 {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return time.Duration(v) * time.Second
		}
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return def
}

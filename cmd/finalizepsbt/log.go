// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/btcsuite/psbtfinalizer/finalizer"
	"github.com/jrick/logrotate/rotator"
)

// logRotateThresholdKB is the size at which the log file is rolled over.
const logRotateThresholdKB = 10 * 1024

// logRotateMaxRolls is the number of rolled log files kept around.
const logRotateMaxRolls = 3

// setUpLogging wires the finalizer package logger to stderr and, if a log
// file is given, to a rotated file as well. The returned cleanup function
// flushes and closes the rotator.
func setUpLogging(debugLevel, logFile string) (func(), error) {
	level, ok := btclog.LevelFromString(debugLevel)
	if !ok {
		return nil, fmt.Errorf("invalid debug level %q", debugLevel)
	}

	writer := io.Writer(os.Stderr)
	cleanup := func() {}

	if logFile != "" {
		logRotator, err := rotator.New(
			logFile, logRotateThresholdKB, false, logRotateMaxRolls,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to create log "+
				"rotator: %w", err)
		}

		writer = io.MultiWriter(os.Stderr, logRotator)
		cleanup = func() {
			_ = logRotator.Close()
		}
	}

	backend := btclog.NewBackend(writer)
	logger := backend.Logger("FNLZ")
	logger.SetLevel(level)

	finalizer.UseLogger(logger)

	return cleanup, nil
}

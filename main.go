// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Musestat - Muse S headset telemetry decoder
//
// A CLI tool for streaming, monitoring and serving decoded EEG and PPG
// frames from a Muse S Gen 2 headset.

package main

import (
	"os"

	"github.com/Thermoquad/musestat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

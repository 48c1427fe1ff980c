// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/pressure_grid/internal/app"
	"github.com/relabs-tech/pressure_grid/internal/config"
)

func main() {
	configPath := flag.String("config", "grid_config.txt", "path to the configuration file")
	calibrate := flag.Bool("calibrate", false, "capture a fresh baseline before scanning (bed must be unloaded)")
	flag.Parse()

	log.Println("starting pressure-grid scanner")

	// Load configuration
	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunScanner(*calibrate); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

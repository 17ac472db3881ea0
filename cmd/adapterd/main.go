/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/carverauto/adapterhub/pkg/config"
	"github.com/carverauto/adapterhub/pkg/daemon"
	"github.com/carverauto/adapterhub/pkg/lifecycle"
	"github.com/carverauto/adapterhub/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("adapterd: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/adapterhub/adapterd.json", "Path to config file (JSON or YAML)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootLog, err := logger.New(nil)
	if err != nil {
		return err
	}

	var cfg daemon.Config
	if err := config.Load(ctx, bootLog, *configPath, &cfg); err != nil {
		return err
	}

	mainLog, err := lifecycle.CreateComponentLogger("adapterd", cfg.Logging)
	if err != nil {
		return err
	}

	d, err := daemon.New(ctx, &cfg, mainLog)
	if err != nil {
		return err
	}

	return d.Run(ctx)
}

// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/engine"
)

type RC int

const (
	RC_OK   RC = 0
	RC_FAIL RC = 1
)

func main() {
	os.Exit(int(run(os.Args)))
}

func run(args []string) RC {
	ctx, cancelCtx := context.WithCancel(log.WithLogField(context.Background(), "pid", strconv.Itoa(os.Getpid())))
	defer cancelCtx()

	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <config.yaml>\n", args[0])
		return RC_FAIL
	}

	var conf engine.Config
	if err := confutil.ReadAndParseYAMLFile(ctx, args[1], &conf); err != nil {
		log.L(ctx).Error(err.Error())
		return RC_FAIL
	}

	e, err := engine.NewEngine(ctx, &conf)
	if err != nil {
		log.L(ctx).Error(err.Error())
		return RC_FAIL
	}
	e.Start(ctx)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-signals
	log.L(ctx).Infof("Stopping due to signal %s", sig)
	e.Stop(ctx)
	return RC_OK
}

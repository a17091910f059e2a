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

package engine

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/mintvend/mintvend/internal/allocation"
	"github.com/mintvend/mintvend/internal/catalog"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/keychain"
	"github.com/mintvend/mintvend/internal/msgs"
	"github.com/mintvend/mintvend/internal/persistence"
	"github.com/mintvend/mintvend/internal/poller"
	"github.com/mintvend/mintvend/internal/purchase"
	"github.com/mintvend/mintvend/internal/txbuilder"
	"github.com/mintvend/mintvend/pkg/chainclient"
)

type LogConfig struct {
	Level *string `yaml:"level"`
}

type Config struct {
	Log         LogConfig          `yaml:"log"`
	WorkerID    string             `yaml:"workerId"`
	Persistence persistence.Config `yaml:"persistence"`
	Catalog     catalog.Config     `yaml:"catalog"`
	Chain       chainclient.Config `yaml:"chain"`
	Keychain    keychain.Config    `yaml:"keychain"`
	Allocation  allocation.Config  `yaml:"allocation"`
	Transaction txbuilder.Config   `yaml:"transaction"`
	Purchase    purchase.Config    `yaml:"purchase"`
	Poller      poller.Config      `yaml:"poller"`
}

// Engine wires the sale pipeline together and owns its lifecycle. All
// configuration problems (bad keys, unreachable database) surface here, at
// startup, before the poller ever runs.
type Engine struct {
	workerID    string
	persistence persistence.Persistence
	catalog     catalog.Store
	chain       chainclient.Client
	keychains   keychain.Provider
	allocations *allocation.Store
	poller      *poller.Poller
}

func NewEngine(ctx context.Context, conf *Config) (*Engine, error) {
	if conf.WorkerID == "" {
		return nil, i18n.NewError(ctx, msgs.MsgConfigMissingWorkerID)
	}
	log.SetLevel(confutil.StringNotEmpty(conf.Log.Level, "info"))

	p, err := persistence.NewPersistence(ctx, &conf.Persistence)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.NewStore(ctx, &conf.Catalog, p)
	if err == nil {
		var keys keychain.Provider
		if keys, err = keychain.NewFileProvider(ctx, &conf.Keychain); err == nil {
			chain := chainclient.NewRESTClient(ctx, &conf.Chain)
			builder := txbuilder.NewBuilder(&conf.Transaction)
			allocations := allocation.NewStore(&conf.Allocation)
			orchestrator := purchase.NewOrchestrator(&conf.Purchase, chain, builder, keys)
			return &Engine{
				workerID:    conf.WorkerID,
				persistence: p,
				catalog:     cat,
				chain:       chain,
				keychains:   keys,
				allocations: allocations,
				poller:      poller.NewPoller(&conf.Poller, cat, chain, allocations, orchestrator),
			}, nil
		}
	}
	p.Close()
	return nil, err
}

func (e *Engine) Start(ctx context.Context) {
	log.L(ctx).Infof("Worker %s starting", e.workerID)
	e.poller.Start(log.WithLogField(ctx, "worker", e.workerID))
}

// Stop drains the poller (letting in-flight purchases finish) before
// releasing the database.
func (e *Engine) Stop(ctx context.Context) {
	e.poller.Stop()
	e.persistence.Close()
	log.L(ctx).Infof("Worker %s stopped", e.workerID)
}

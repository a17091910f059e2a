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

package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/mintvend/mintvend/internal/allocation"
	"github.com/mintvend/mintvend/internal/catalog"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/purchase"
	"github.com/mintvend/mintvend/pkg/chainclient"
	"github.com/mintvend/mintvend/pkg/ledger"
)

type Config struct {
	Interval            *string `yaml:"interval"`
	SaleRefreshInterval *string `yaml:"saleRefreshInterval"`
}

const (
	defaultInterval            = 10 * time.Second
	defaultSaleRefreshInterval = 60 * time.Second
)

// PaymentProcessor is the narrow view of the purchase orchestrator the
// poller needs.
type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, session *allocation.Session, payment *ledger.Utxo) *purchase.Result
}

// Poller discovers active sales and runs one polling loop per sale,
// watching the sale address for payment UTXOs and dispatching each new one
// to the orchestrator on its own goroutine.
type Poller struct {
	catalog     catalog.Store
	chain       chainclient.ChainDataProvider
	allocations *allocation.Store
	processor   PaymentProcessor

	interval        time.Duration
	refreshInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[uuid.UUID]bool
}

func NewPoller(conf *Config, cat catalog.Store, chain chainclient.ChainDataProvider, allocations *allocation.Store, processor PaymentProcessor) *Poller {
	return &Poller{
		catalog:         cat,
		chain:           chain,
		allocations:     allocations,
		processor:       processor,
		interval:        confutil.Duration(conf.Interval, defaultInterval),
		refreshInterval: confutil.Duration(conf.SaleRefreshInterval, defaultSaleRefreshInterval),
		running:         make(map[uuid.UUID]bool),
	}
}

func (p *Poller) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(log.WithLogField(ctx, "role", "poller"))
	p.wg.Add(1)
	go p.discoveryLoop()
}

// Stop cancels the polling loops and waits for every in-flight payment to
// reach a terminal state. Purchases already dispatched run to completion on
// an uncancelled context, so a shutdown can never abandon an allocated
// token mid-mint.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) discoveryLoop() {
	defer p.wg.Done()
	p.refreshSales()
	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.refreshSales()
		}
	}
}

func (p *Poller) refreshSales() {
	sales, err := p.catalog.ActiveSales(p.ctx)
	if err != nil {
		log.L(p.ctx).Warnf("Active sale discovery failed: %s", err)
		return
	}
	for _, sale := range sales {
		p.mu.Lock()
		launch := !p.running[sale.ID]
		if launch {
			p.running[sale.ID] = true
		}
		p.mu.Unlock()
		if launch {
			p.launchSale(sale)
		}
	}
}

func (p *Poller) launchSale(sale *catalog.Sale) {
	ctx := log.WithLogField(p.ctx, "sale", sale.ID.String())
	collection, err := p.catalog.GetCollection(ctx, sale.CollectionID)
	var mintable []*catalog.Token
	if err == nil {
		mintable, err = p.catalog.MintableTokens(ctx, sale.CollectionID)
	}
	var session *allocation.Session
	if err == nil {
		session, err = p.allocations.OpenSession(ctx, sale, mintable)
	}
	if err != nil {
		log.L(ctx).Errorf("Cannot start sale loop: %s", err)
		p.mu.Lock()
		delete(p.running, sale.ID)
		p.mu.Unlock()
		return
	}
	log.L(ctx).Infof("Starting sale loop for collection %s (%d mintable)", collection.Name, len(mintable))
	p.wg.Add(1)
	go p.saleLoop(ctx, sale, collection, session)
}

func (p *Poller) saleLoop(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, session *allocation.Session) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if session.Exhausted() {
			log.L(ctx).Infof("Sale exhausted, stopping loop")
			return
		}
		if sale.End != nil && time.Now().After(*sale.End) {
			log.L(ctx).Infof("Sale window closed, stopping loop")
			return
		}
		p.pollOnce(ctx, sale, collection, session)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce dispatches every not-yet-claimed payment UTXO at the sale
// address. Claiming happens here, under the session, so a payment is
// processed at most once regardless of how many polls see it.
func (p *Poller) pollOnce(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, session *allocation.Session) {
	utxos, err := p.chain.GetUtxosAt(ctx, sale.SaleAddress)
	if err != nil {
		log.L(ctx).Warnf("Poll of %s failed: %s", sale.SaleAddress, err)
		return
	}
	for _, utxo := range utxos {
		if !session.TryLockUtxo(utxo.Ref()) {
			continue
		}
		p.wg.Add(1)
		go p.processPayment(ctx, sale, collection, session, utxo)
	}
}

func (p *Poller) processPayment(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, session *allocation.Session, payment *ledger.Utxo) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.L(ctx).Errorf("Panic processing payment %s: %v", payment.Ref(), r)
			session.MarkFailed(payment.Ref())
		}
	}()
	// detached from cancellation: once dispatched, a purchase runs to its
	// terminal state even through a shutdown
	p.processor.ProcessPayment(context.WithoutCancel(ctx), sale, collection, session, payment)
}

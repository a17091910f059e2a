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
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mintvend/mintvend/internal/allocation"
	"github.com/mintvend/mintvend/internal/catalog"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/purchase"
	"github.com/mintvend/mintvend/pkg/chainclient"
	"github.com/mintvend/mintvend/pkg/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCatalog struct {
	sales      []*catalog.Sale
	collection *catalog.Collection
	tokens     []*catalog.Token
}

func (m *mockCatalog) ActiveSales(ctx context.Context) ([]*catalog.Sale, error) {
	return m.sales, nil
}

func (m *mockCatalog) GetSale(ctx context.Context, id uuid.UUID) (*catalog.Sale, error) {
	return m.sales[0], nil
}

func (m *mockCatalog) GetCollection(ctx context.Context, id uuid.UUID) (*catalog.Collection, error) {
	return m.collection, nil
}

func (m *mockCatalog) MintableTokens(ctx context.Context, collectionID uuid.UUID) ([]*catalog.Token, error) {
	return m.tokens, nil
}

type mockChainData struct {
	utxos []*ledger.Utxo
}

func (m *mockChainData) GetUtxosAt(ctx context.Context, address string) ([]*ledger.Utxo, error) {
	return m.utxos, nil
}

func (m *mockChainData) GetLatestTip(ctx context.Context) (*chainclient.Tip, error) {
	return &chainclient.Tip{Slot: 1}, nil
}

func (m *mockChainData) GetProtocolParams(ctx context.Context) (*chainclient.ProtocolParams, error) {
	return &chainclient.ProtocolParams{}, nil
}

func (m *mockChainData) GetTransactionIO(ctx context.Context, txHash string) (*chainclient.TxIO, error) {
	return &chainclient.TxIO{}, nil
}

type mockProcessor struct {
	calls   chan string
	block   chan struct{} // close to release blocked calls
	ctxErrs chan error
}

func (m *mockProcessor) ProcessPayment(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, session *allocation.Session, payment *ledger.Utxo) *purchase.Result {
	if m.block != nil {
		<-m.block
	}
	if m.ctxErrs != nil {
		m.ctxErrs <- ctx.Err()
	}
	m.calls <- payment.Ref()
	return &purchase.Result{Outcome: purchase.OutcomeDistributed, Quantity: 1}
}

func testTokens(collectionID uuid.UUID, n int) []*catalog.Token {
	tokens := make([]*catalog.Token, n)
	for i := range tokens {
		tokens[i] = &catalog.Token{ID: uuid.New(), CollectionID: collectionID, AssetName: fmt.Sprintf("Bud%03d", i)}
	}
	return tokens
}

func newTestPoller(t *testing.T, sale *catalog.Sale, utxos []*ledger.Utxo, processor PaymentProcessor) *Poller {
	collection := &catalog.Collection{ID: sale.CollectionID, Name: "Buds", PolicyID: "aa"}
	cat := &mockCatalog{
		sales:      []*catalog.Sale{sale},
		collection: collection,
		tokens:     testTokens(collection.ID, sale.TotalReleaseQuantity),
	}
	conf := &Config{Interval: confutil.P("2ms"), SaleRefreshInterval: confutil.P("5ms")}
	return NewPoller(conf, cat, &mockChainData{utxos: utxos}, allocation.NewStore(&allocation.Config{Directory: t.TempDir()}), processor)
}

func activeSale() *catalog.Sale {
	return &catalog.Sale{
		ID:                   uuid.New(),
		CollectionID:         uuid.New(),
		Active:               true,
		SaleAddress:          "0101",
		TotalReleaseQuantity: 10,
	}
}

func TestPollerDispatchesEachUtxoOnce(t *testing.T) {
	utxos := []*ledger.Utxo{
		{TxHash: "aa", Index: 0, Value: ledger.LovelaceOnly(1)},
		{TxHash: "aa", Index: 1, Value: ledger.LovelaceOnly(1)},
	}
	processor := &mockProcessor{calls: make(chan string, 100)}
	p := newTestPoller(t, activeSale(), utxos, processor)

	p.Start(context.Background())
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ref := <-processor.calls:
			seen[ref] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for dispatch")
		}
	}
	assert.Len(t, seen, 2)

	// the same UTXOs keep appearing on every poll, but stay claimed
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, processor.calls)
	p.Stop()
}

func TestPollerDrainsInFlightPaymentsOnStop(t *testing.T) {
	utxos := []*ledger.Utxo{{TxHash: "aa", Index: 0, Value: ledger.LovelaceOnly(1)}}
	processor := &mockProcessor{
		calls:   make(chan string, 1),
		block:   make(chan struct{}),
		ctxErrs: make(chan error, 1),
	}
	p := newTestPoller(t, activeSale(), utxos, processor)
	p.Start(context.Background())

	stopped := make(chan struct{})
	go func() {
		// give the dispatch a moment to start, then shut down mid-flight
		time.Sleep(10 * time.Millisecond)
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned with a payment still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	close(processor.block)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the payment completed")
	}
	// the dispatched payment ran on an uncancelled context
	require.NoError(t, <-processor.ctxErrs)
	assert.Equal(t, "aa#0", <-processor.calls)
}

func TestPollerStopsExhaustedSale(t *testing.T) {
	sale := activeSale()
	sale.TotalReleaseQuantity = 0
	processor := &mockProcessor{calls: make(chan string, 1)}
	p := newTestPoller(t, sale, []*ledger.Utxo{{TxHash: "aa", Index: 0, Value: ledger.LovelaceOnly(1)}}, processor)

	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	assert.Empty(t, processor.calls)
}

func TestPollerStopsClosedSaleWindow(t *testing.T) {
	sale := activeSale()
	sale.End = confutil.P(time.Now().Add(-time.Hour))
	processor := &mockProcessor{calls: make(chan string, 1)}
	p := newTestPoller(t, sale, []*ledger.Utxo{{TxHash: "aa", Index: 0, Value: ledger.LovelaceOnly(1)}}, processor)

	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	assert.Empty(t, processor.calls)
}

func TestPollerRecoversFromProcessorPanic(t *testing.T) {
	utxos := []*ledger.Utxo{{TxHash: "aa", Index: 0, Value: ledger.LovelaceOnly(1)}}
	processor := &panickyProcessor{called: make(chan struct{}, 100)}
	p := newTestPoller(t, activeSale(), utxos, processor)

	p.Start(context.Background())
	select {
	case <-processor.called:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
	// the poller survives and does not redispatch the failed payment
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	assert.Len(t, processor.called, 0)
}

type panickyProcessor struct {
	called chan struct{}
}

func (m *panickyProcessor) ProcessPayment(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, session *allocation.Session, payment *ledger.Utxo) *purchase.Result {
	m.called <- struct{}{}
	panic("pop")
}

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

package chainclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (context.Context, Client) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return context.Background(), NewRESTClient(context.Background(), &Config{URL: server.URL})
}

func TestGetUtxosAt(t *testing.T) {
	ctx, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/addresses/addr1sale/utxos", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"txHash":"aa11","outputIndex":0,"value":{"lovelace":39000000}},
			{"txHash":"aa11","outputIndex":1,"value":{"lovelace":2000000}}
		]`))
	})

	utxos, err := c.GetUtxosAt(ctx, "addr1sale")
	require.NoError(t, err)
	require.Len(t, utxos, 2)
	assert.Equal(t, "aa11#0", utxos[0].Ref())
	assert.Equal(t, int64(39_000_000), utxos[0].Value.Lovelace())
}

func TestGetLatestTipCached(t *testing.T) {
	var calls int32
	ctx, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"slot":5000000,"hash":"bb22","height":700}`))
	})

	tip1, err := c.GetLatestTip(ctx)
	require.NoError(t, err)
	tip2, err := c.GetLatestTip(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), tip1.Slot)
	assert.Same(t, tip1, tip2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetProtocolParams(t *testing.T) {
	ctx, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"minFeeA":44,"minFeeB":155381,"coinsPerUtxoWord":34482}`))
	})

	params, err := c.GetProtocolParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(44), params.MinFeeA)
	assert.Equal(t, int64(155_381), params.MinFeeB)
	assert.Equal(t, int64(34_482), params.CoinsPerWord)
}

func TestGetTransactionIO(t *testing.T) {
	ctx, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/cc33/io", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inputs":[{"address":"addr1buyer","value":{"lovelace":40000000}}],"outputs":[]}`))
	})

	txIO, err := c.GetTransactionIO(ctx, "cc33")
	require.NoError(t, err)
	require.Len(t, txIO.Inputs, 1)
	assert.Equal(t, "addr1buyer", txIO.Inputs[0].Address)
}

func TestGetTransactionIOEmpty(t *testing.T) {
	ctx, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"inputs":[],"outputs":[]}`))
	})

	_, err := c.GetTransactionIO(ctx, "cc33")
	assert.Regexp(t, "MV010502", err)
}

func TestSubmitTransaction(t *testing.T) {
	ctx, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transactions", r.URL.Path)
		assert.Equal(t, "application/cbor", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"txHash":"dd44"}`))
	})

	hash, err := c.SubmitTransaction(ctx, []byte{0x84, 0x01})
	require.NoError(t, err)
	assert.Equal(t, "dd44", hash)
}

func TestSubmitTransactionRejected(t *testing.T) {
	ctx, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "BadInputsUTxO", http.StatusBadRequest)
	})

	_, err := c.SubmitTransaction(ctx, []byte{0x84, 0x01})
	assert.Regexp(t, "MV010501.*400", err)
}

func TestErrorStatus(t *testing.T) {
	ctx, c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := c.GetUtxosAt(ctx, "addr1sale")
	assert.Regexp(t, "MV010501.*404", err)
	_, err = c.GetLatestTip(ctx)
	assert.Regexp(t, "MV010501", err)
	_, err = c.GetProtocolParams(ctx)
	assert.Regexp(t, "MV010501", err)
	_, err = c.GetTransactionIO(ctx, "cc33")
	assert.Regexp(t, "MV010501", err)
}

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

	"github.com/mintvend/mintvend/pkg/ledger"
)

// Tip is the most recently observed point of the chain.
type Tip struct {
	Slot   uint64 `json:"slot"`
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
}

// ProtocolParams are the protocol parameters the pipeline consumes: the
// linear fee coefficients and the per-word output coin cost.
type ProtocolParams struct {
	MinFeeA      int64 `json:"minFeeA"`
	MinFeeB      int64 `json:"minFeeB"`
	CoinsPerWord int64 `json:"coinsPerUtxoWord"`
}

// TxIOEntry is one (resolved) input or output of a transaction, with the
// address it belongs to. Used to recover the buyer's address from the
// payment transaction's inputs.
type TxIOEntry struct {
	Address string        `json:"address"`
	Value   ledger.Bundle `json:"value"`
}

type TxIO struct {
	Inputs  []*TxIOEntry `json:"inputs"`
	Outputs []*TxIOEntry `json:"outputs"`
}

// ChainDataProvider is the read side of the chain collaborator.
type ChainDataProvider interface {
	GetUtxosAt(ctx context.Context, address string) ([]*ledger.Utxo, error)
	GetLatestTip(ctx context.Context) (*Tip, error)
	GetProtocolParams(ctx context.Context) (*ProtocolParams, error)
	GetTransactionIO(ctx context.Context, txHash string) (*TxIO, error)
}

// TxSubmitter submits a fully signed transaction and returns the chain's
// hash for it, which is authoritative over the locally calculated one.
type TxSubmitter interface {
	SubmitTransaction(ctx context.Context, signedTx []byte) (string, error)
}

// Client is what the engine wires in: one connection serving both sides.
type Client interface {
	ChainDataProvider
	TxSubmitter
}

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

package txbuilder

import (
	"context"
	"sort"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/keychain"
	"github.com/mintvend/mintvend/internal/metadata"
	"github.com/mintvend/mintvend/internal/msgs"
	"github.com/mintvend/mintvend/pkg/chainclient"
	"github.com/mintvend/mintvend/pkg/ledger"
)

type Config struct {
	TTLOffsetSlots *uint64 `yaml:"ttlOffsetSlots"`
	FeePadding     *int64  `yaml:"feePadding"`
}

const (
	defaultTTLOffsetSlots = uint64(7200)

	// absorbs the CBOR size fluctuation when the fee integer itself is
	// re-encoded at its final width
	defaultFeePadding = int64(44)
)

// Output is a declared transaction output. The last output of a command is
// the fee-absorbing one, conventionally the proceeds/sale-side output and
// never the buyer's.
type Output struct {
	Address string
	Value   ledger.Bundle
}

type BuildCommand struct {
	Inputs   []*ledger.Utxo
	Outputs  []Output
	Mint     ledger.Bundle // freshly minted quantities, nil for plain payments
	Metadata metadata.Doc
	KeyChain *keychain.MintingKeyChain
	TipSlot  uint64
}

type BuiltTransaction struct {
	TxHash    string
	CborBytes []byte
}

type Builder struct {
	ttlOffsetSlots uint64
	feePadding     int64
}

func NewBuilder(conf *Config) *Builder {
	return &Builder{
		ttlOffsetSlots: confutil.UInt64(conf.TTLOffsetSlots, defaultTTLOffsetSlots),
		feePadding:     confutil.Int64(conf.FeePadding, defaultFeePadding),
	}
}

// Build constructs a signed, submittable transaction.
//
// The fee is computed in two passes: the transaction is fully built and
// signed at fee zero, measured, and rebuilt with the linear fee deducted
// from the last output. Mint and metadata encoding sizes are data-dependent,
// so a single-pass fee guess is not safe.
func (b *Builder) Build(ctx context.Context, cmd *BuildCommand, params *chainclient.ProtocolParams) (*BuiltTransaction, error) {
	if len(cmd.Inputs) == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgTxNoInputs)
	}
	if len(cmd.Outputs) == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgTxNoOutputs)
	}
	if err := b.checkBalanced(ctx, cmd); err != nil {
		return nil, err
	}

	ttl := cmd.TipSlot + b.ttlOffsetSlots

	// Pass 1: full serialization at fee zero to measure the real size
	draft, err := encodeSignedTx(ctx, cmd, cmd.Outputs, 0, ttl)
	if err != nil {
		return nil, err
	}
	fee := params.MinFeeA*int64(len(draft.txBytes)) + params.MinFeeB + b.feePadding

	// Pass 2: deduct the fee from the designated (last) output and re-sign
	finalOutputs := make([]Output, len(cmd.Outputs))
	copy(finalOutputs, cmd.Outputs)
	last := len(finalOutputs) - 1
	lastValue := finalOutputs[last].Value.Clone()
	if lastValue.Lovelace() < fee {
		return nil, i18n.NewError(ctx, msgs.MsgTxFeeExceedsLastOutput, fee, lastValue.Lovelace())
	}
	lastValue[ledger.UnitLovelace] -= fee
	finalOutputs[last].Value = lastValue

	wordCost := params.CoinsPerWord
	if wordCost == 0 {
		wordCost = ledger.DefaultWordCost
	}
	for i, out := range finalOutputs {
		if minCoin := ledger.MinOutputLovelace(out.Value, wordCost, false); out.Value.Lovelace() < minCoin {
			return nil, i18n.NewError(ctx, msgs.MsgTxOutputBelowMinimum, i, out.Address, out.Value.Lovelace(), minCoin)
		}
	}

	final, err := encodeSignedTx(ctx, cmd, finalOutputs, fee, ttl)
	if err != nil {
		return nil, err
	}
	log.L(ctx).Debugf("Built transaction %s size=%d fee=%d ttl=%d", final.txHash, len(final.txBytes), fee, ttl)
	return &BuiltTransaction{TxHash: final.txHash, CborBytes: final.txBytes}, nil
}

func (b *Builder) checkBalanced(ctx context.Context, cmd *BuildCommand) error {
	totalIn := ledger.Bundle{}
	for _, in := range cmd.Inputs {
		totalIn = ledger.Add(totalIn, in.Value)
	}
	if cmd.Mint != nil {
		totalIn = ledger.Add(totalIn, cmd.Mint)
	}
	totalOut := ledger.Bundle{}
	for _, out := range cmd.Outputs {
		totalOut = ledger.Add(totalOut, out.Value)
	}

	units := make([]string, 0, len(totalIn)+len(totalOut))
	seen := map[string]bool{}
	for unit := range totalIn {
		units = append(units, unit)
		seen[unit] = true
	}
	for unit := range totalOut {
		if !seen[unit] {
			units = append(units, unit)
		}
	}
	sort.Strings(units)
	for _, unit := range units {
		if totalIn[unit] != totalOut[unit] {
			return i18n.NewError(ctx, msgs.MsgTxInOutMismatch, unit, totalIn[unit], totalOut[unit])
		}
	}
	return nil
}

// BuyerOutputLovelace is the lovelace attached to the buyer's minted-token
// output: the ledger minimum for the minted bundle plus the buyer's change.
func BuyerOutputLovelace(minted ledger.Bundle, changeLovelace int64, wordCost int64) int64 {
	if wordCost == 0 {
		wordCost = ledger.DefaultWordCost
	}
	return ledger.MinOutputLovelace(minted, wordCost, false) + changeLovelace
}

// SplitSaleProceeds divides the post-purchase lovelace between the proceeds
// and creator addresses. With no creator, or a margin of 1.0 or more, the
// proceeds address takes everything.
func SplitSaleProceeds(remaining int64, margin float64, hasCreator bool) (proceedsCut int64, creatorCut int64) {
	if !hasCreator || margin >= 1.0 {
		return remaining, 0
	}
	proceedsCut = int64(float64(remaining) * margin)
	return proceedsCut, remaining - proceedsCut
}

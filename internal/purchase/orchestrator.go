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

package purchase

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/retry"
	"github.com/mintvend/mintvend/internal/allocation"
	"github.com/mintvend/mintvend/internal/catalog"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/keychain"
	"github.com/mintvend/mintvend/internal/metadata"
	"github.com/mintvend/mintvend/internal/msgs"
	"github.com/mintvend/mintvend/internal/txbuilder"
	"github.com/mintvend/mintvend/pkg/chainclient"
	"github.com/mintvend/mintvend/pkg/ledger"
)

type Outcome string

const (
	// OutcomeDistributed is the happy path: tokens minted and delivered
	OutcomeDistributed Outcome = "distributed"
	// OutcomeRefunded means the purchase was refused and the payment sent back
	OutcomeRefunded Outcome = "refunded"
	// OutcomeRefundFailed means the refusal stands but the refund could not
	// be submitted; the payment is retried after a restart, or handled by
	// the operator
	OutcomeRefundFailed Outcome = "refundfailed"
	// OutcomeFailed is an infrastructure failure with no compensating
	// refund; the Failure field says which stage broke
	OutcomeFailed Outcome = "failed"
)

// FailureStage pinpoints where a failed orchestration stopped.
type FailureStage string

const (
	FailureTxInfo   FailureStage = "txinfo"
	FailureTxBuild  FailureStage = "txbuild"
	FailureTxSubmit FailureStage = "txsubmit"
)

type Result struct {
	Outcome  Outcome
	Failure  FailureStage // set when Outcome is failed
	TxHash   string
	Quantity int
	Reason   string // rejection reason tag, set on the refund outcomes
}

type RetryConfig struct {
	InitialDelay *string  `yaml:"initialDelay"`
	MaximumDelay *string  `yaml:"maximumDelay"`
	Factor       *float64 `yaml:"factor"`
	MaxAttempts  *int     `yaml:"maxAttempts"`
}

type Config struct {
	SubmitRetry RetryConfig `yaml:"submitRetry"`
}

const (
	defaultSubmitRetryInitialDelay = 250 * time.Millisecond
	defaultSubmitRetryMaximumDelay = 5 * time.Second
	defaultSubmitRetryFactor       = 2.0
	defaultSubmitMaxAttempts       = 3
)

// Orchestrator drives one payment UTXO through validation, allocation,
// transaction construction and submission, compensating on every failure
// path so an allocated token is never stranded.
type Orchestrator struct {
	chain          chainclient.Client
	builder        *txbuilder.Builder
	keychains      keychain.Provider
	submitRetry    *retry.Retry
	submitAttempts int
	now            func() time.Time
}

func NewOrchestrator(conf *Config, chain chainclient.Client, builder *txbuilder.Builder, keychains keychain.Provider) *Orchestrator {
	return &Orchestrator{
		chain:     chain,
		builder:   builder,
		keychains: keychains,
		submitRetry: &retry.Retry{
			InitialDelay: confutil.Duration(conf.SubmitRetry.InitialDelay, defaultSubmitRetryInitialDelay),
			MaximumDelay: confutil.Duration(conf.SubmitRetry.MaximumDelay, defaultSubmitRetryMaximumDelay),
			Factor:       confutil.Float64Min(conf.SubmitRetry.Factor, 1.0, defaultSubmitRetryFactor),
		},
		submitAttempts: confutil.IntMin(conf.SubmitRetry.MaxAttempts, 1, defaultSubmitMaxAttempts),
		now:            time.Now,
	}
}

// ProcessPayment handles one claimed payment UTXO end to end and records
// the terminal state on the session. The caller must have claimed the UTXO
// with TryLockUtxo first.
func (o *Orchestrator) ProcessPayment(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, session *allocation.Session, payment *ledger.Utxo) *Result {
	result := o.processPayment(ctx, sale, collection, session, payment)
	switch result.Outcome {
	case OutcomeDistributed:
		session.MarkSuccessful(payment.Ref(), result.Quantity)
		log.L(ctx).Infof("Distributed %d token(s) for payment %s in tx %s", result.Quantity, payment.Ref(), result.TxHash)
	case OutcomeRefunded:
		session.MarkRefunded(payment.Ref())
		log.L(ctx).Infof("Refunded payment %s (%s) in tx %s", payment.Ref(), result.Reason, result.TxHash)
	case OutcomeRefundFailed:
		session.MarkFailed(payment.Ref())
		log.L(ctx).Warnf("Refund for payment %s (%s) failed, held for retry after restart", payment.Ref(), result.Reason)
	default:
		session.MarkFailed(payment.Ref())
		log.L(ctx).Warnf("Payment %s failed at stage %s", payment.Ref(), result.Failure)
	}
	return result
}

func (o *Orchestrator) processPayment(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, session *allocation.Session, payment *ledger.Utxo) *Result {
	kc, err := o.keychains.GetMintingKeyChain(ctx, collection.PolicyID)
	if err != nil {
		log.L(ctx).Errorf("No keychain for payment %s: %s", payment.Ref(), err)
		return &Result{Outcome: OutcomeFailed, Failure: FailureTxInfo}
	}

	validated, err := Validate(ctx, sale, payment, o.now())
	if err != nil {
		// rejected before any allocation, only the refund compensates
		return o.refund(ctx, kc, payment, err)
	}
	ctx = log.WithLogField(ctx, "attempt", validated.ID.String())

	tokens, err := session.Allocate(ctx, validated.ID.String(), validated.Quantity)
	if err != nil {
		var allocErr *allocation.AllocationError
		if errors.As(err, &allocErr) {
			return o.refund(ctx, kc, payment, err)
		}
		log.L(ctx).Errorf("Allocation failed for payment %s: %s", payment.Ref(), err)
		return &Result{Outcome: OutcomeFailed, Failure: FailureTxBuild}
	}

	// the buyer is whoever funded the first input of the payment transaction
	txIO, err := o.chain.GetTransactionIO(ctx, payment.TxHash)
	if err != nil {
		err = i18n.WrapError(ctx, err, msgs.MsgPurchaseBuyerAddressUnknown, payment.Ref())
		log.L(ctx).Errorf("Releasing %d token(s), cannot determine buyer for payment %s: %s", len(tokens), payment.Ref(), err)
		session.Release(ctx, tokens)
		return &Result{Outcome: OutcomeFailed, Failure: FailureTxInfo}
	}
	buyerAddr := txIO.Inputs[0].Address

	built, err := o.buildDistribution(ctx, sale, collection, kc, payment, buyerAddr, validated, tokens)
	if err != nil {
		log.L(ctx).Errorf("Releasing %d token(s), cannot build distribution for payment %s: %s", len(tokens), payment.Ref(), err)
		session.Release(ctx, tokens)
		return &Result{Outcome: OutcomeFailed, Failure: FailureTxBuild}
	}
	if err = o.submit(ctx, built); err != nil {
		log.L(ctx).Errorf("Releasing %d token(s), submission failed for payment %s: %s", len(tokens), payment.Ref(), err)
		session.Release(ctx, tokens)
		return &Result{Outcome: OutcomeFailed, Failure: FailureTxSubmit, TxHash: built.TxHash}
	}
	return &Result{Outcome: OutcomeDistributed, TxHash: built.TxHash, Quantity: validated.Quantity}
}

func (o *Orchestrator) buildDistribution(ctx context.Context, sale *catalog.Sale, collection *catalog.Collection, kc *keychain.MintingKeyChain, payment *ledger.Utxo, buyerAddr string, validated *Validated, tokens []*catalog.Token) (*txbuilder.BuiltTransaction, error) {
	tip, err := o.chain.GetLatestTip(ctx)
	if err != nil {
		return nil, err
	}
	params, err := o.chain.GetProtocolParams(ctx)
	if err != nil {
		return nil, err
	}

	minted := ledger.Bundle{}
	for _, token := range tokens {
		minted[collection.PolicyID+"."+hex.EncodeToString([]byte(token.AssetName))] = 1
	}

	// buyer output: the minted tokens, any stray native assets that rode in
	// on the payment, the ledger minimum for that bundle, plus the change
	buyerValue := payment.Value.Clone()
	delete(buyerValue, ledger.UnitLovelace)
	buyerValue = ledger.Add(buyerValue, minted)
	buyerLovelace := txbuilder.BuyerOutputLovelace(buyerValue, validated.ChangeLovelace, params.CoinsPerWord)
	buyerValue[ledger.UnitLovelace] = buyerLovelace

	remaining := payment.Value.Lovelace() - buyerLovelace
	if remaining <= 0 {
		return nil, i18n.NewError(ctx, msgs.MsgTxFeeExceedsLastOutput, buyerLovelace, payment.Value.Lovelace())
	}
	proceedsCut, creatorCut := txbuilder.SplitSaleProceeds(remaining, sale.PostPurchaseMargin, sale.CreatorAddress != "")

	// zero cuts are omitted entirely: a zero-margin sale routes everything
	// to the creator, whose output then comes last and absorbs the fee
	outputs := []txbuilder.Output{{Address: buyerAddr, Value: buyerValue}}
	if creatorCut > 0 {
		outputs = append(outputs, txbuilder.Output{Address: sale.CreatorAddress, Value: ledger.LovelaceOnly(creatorCut)})
	}
	if proceedsCut > 0 {
		outputs = append(outputs, txbuilder.Output{Address: sale.ProceedsAddress, Value: ledger.LovelaceOnly(proceedsCut)})
	}

	doc := metadata.BuildMintMetadata(tokens, collection)
	for _, token := range tokens {
		if token.Royalty.IsSet() {
			for label, content := range metadata.BuildRoyaltyMetadata(&token.Royalty) {
				doc[label] = content
			}
			break
		}
	}

	return o.builder.Build(ctx, &txbuilder.BuildCommand{
		Inputs:   []*ledger.Utxo{payment},
		Outputs:  outputs,
		Mint:     minted,
		Metadata: doc,
		KeyChain: kc,
		TipSlot:  tip.Slot,
	}, params)
}

// refund returns the full payment, minus the network fee, to the buyer,
// with a label-674 message naming the rejection reason.
func (o *Orchestrator) refund(ctx context.Context, kc *keychain.MintingKeyChain, payment *ledger.Utxo, rejection error) *Result {
	reason := rejectionReason(rejection)
	log.L(ctx).Infof("Refunding payment %s: %s", payment.Ref(), rejection)

	built, err := o.buildRefund(ctx, kc, payment, reason, rejection.Error())
	if err == nil {
		err = o.submit(ctx, built)
	}
	if err != nil {
		log.L(ctx).Errorf("Refund for payment %s failed: %s", payment.Ref(), err)
		return &Result{Outcome: OutcomeRefundFailed, Reason: reason}
	}
	return &Result{Outcome: OutcomeRefunded, TxHash: built.TxHash, Reason: reason}
}

func (o *Orchestrator) buildRefund(ctx context.Context, kc *keychain.MintingKeyChain, payment *ledger.Utxo, reason, detail string) (*txbuilder.BuiltTransaction, error) {
	txIO, err := o.chain.GetTransactionIO(ctx, payment.TxHash)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgPurchaseBuyerAddressUnknown, payment.Ref())
	}
	tip, err := o.chain.GetLatestTip(ctx)
	if err != nil {
		return nil, err
	}
	params, err := o.chain.GetProtocolParams(ctx)
	if err != nil {
		return nil, err
	}
	return o.builder.Build(ctx, &txbuilder.BuildCommand{
		Inputs:   []*ledger.Utxo{payment},
		Outputs:  []txbuilder.Output{{Address: txIO.Inputs[0].Address, Value: payment.Value.Clone()}},
		Metadata: metadata.BuildMessageMetadata([]string{reason, detail}),
		KeyChain: kc,
		TipSlot:  tip.Slot,
	}, params)
}

// submit pushes the signed transaction with bounded retries. The hash the
// chain returns is authoritative; a mismatch with the locally calculated
// one is logged but does not fail the purchase.
func (o *Orchestrator) submit(ctx context.Context, built *txbuilder.BuiltTransaction) error {
	return o.submitRetry.Do(ctx, "submit "+built.TxHash, func(attempt int) (bool, error) {
		returned, err := o.chain.SubmitTransaction(ctx, built.CborBytes)
		if err != nil {
			return attempt < o.submitAttempts, err
		}
		if returned != built.TxHash {
			log.L(ctx).Warnf("%s", i18n.NewError(ctx, msgs.MsgTxSubmitWrongHashReturned, returned, built.TxHash))
		}
		return false, nil
	})
}

func rejectionReason(err error) string {
	var rejErr *RejectionError
	if errors.As(err, &rejErr) {
		return rejErr.Reason
	}
	var allocErr *allocation.AllocationError
	if errors.As(err, &allocErr) {
		return allocErr.Reason
	}
	return ""
}

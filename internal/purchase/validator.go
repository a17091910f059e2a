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
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/mintvend/mintvend/internal/catalog"
	"github.com/mintvend/mintvend/internal/msgs"
	"github.com/mintvend/mintvend/pkg/ledger"
)

// Rejection reason tags, stable strings carried into the refund message
// metadata so buyers can see why a payment bounced.
const (
	ReasonSaleInactive        = "saleinactive"
	ReasonSalePeriodOut       = "saleperiodout"
	ReasonPaymentInsufficient = "salepaymentinsufficient"
	ReasonMaxAllowedExceeded  = "salemaxallowedexceeded"
)

// RejectionError is a purchase refusal that warrants a compensating refund,
// as opposed to an infrastructure failure that does not.
type RejectionError struct {
	Reason string
	err    error
}

func (e *RejectionError) Error() string {
	return e.err.Error()
}

func (e *RejectionError) Unwrap() error {
	return e.err
}

// Validated is the accepted purchase attempt: a fresh identifier, the whole
// number of tokens the payment covers, and the buyer's change.
type Validated struct {
	ID             uuid.UUID
	Quantity       int
	ChangeLovelace int64
}

// Validate applies the sale's terms to a payment. Pricing only ever counts
// lovelace; native assets riding on the payment UTXO are ignored here and
// returned with the buyer's output.
//
// Checks are ordered so the reported reason is deterministic: active flag,
// sale period, payment amount, then the per-purchase quantity cap.
func Validate(ctx context.Context, sale *catalog.Sale, payment *ledger.Utxo, now time.Time) (*Validated, error) {
	if !sale.Active {
		return nil, &RejectionError{
			Reason: ReasonSaleInactive,
			err:    i18n.NewError(ctx, msgs.MsgPurchaseSaleInactive, sale.ID),
		}
	}
	if sale.Start != nil && now.Before(*sale.Start) {
		return nil, &RejectionError{
			Reason: ReasonSalePeriodOut,
			err:    i18n.NewError(ctx, msgs.MsgPurchaseSaleNotStarted, sale.ID, sale.Start.Format(time.RFC3339), now.Format(time.RFC3339)),
		}
	}
	if sale.End != nil && now.After(*sale.End) {
		return nil, &RejectionError{
			Reason: ReasonSalePeriodOut,
			err:    i18n.NewError(ctx, msgs.MsgPurchaseSaleEnded, sale.ID, sale.End.Format(time.RFC3339), now.Format(time.RFC3339)),
		}
	}

	paid := payment.Value.Lovelace()
	if paid < sale.LovelacesPerToken {
		return nil, &RejectionError{
			Reason: ReasonPaymentInsufficient,
			err:    i18n.NewError(ctx, msgs.MsgPurchasePaymentInsufficient, paid, sale.LovelacesPerToken, sale.ID),
		}
	}
	quantity := paid / sale.LovelacesPerToken
	if sale.MaxAllowedPurchaseQuantity > 0 && quantity > int64(sale.MaxAllowedPurchaseQuantity) {
		return nil, &RejectionError{
			Reason: ReasonMaxAllowedExceeded,
			err:    i18n.NewError(ctx, msgs.MsgPurchaseMaxAllowedExceeded, quantity, sale.MaxAllowedPurchaseQuantity, sale.ID),
		}
	}

	return &Validated{
		ID:             uuid.New(),
		Quantity:       int(quantity),
		ChangeLovelace: paid % sale.LovelacesPerToken,
	}, nil
}

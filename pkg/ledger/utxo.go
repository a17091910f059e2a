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

package ledger

import "fmt"

// Utxo is an unspent transaction output, immutable once observed, uniquely
// identified by (TxHash, Index).
type Utxo struct {
	TxHash string `json:"txHash"`
	Index  uint32 `json:"index"`
	Value  Bundle `json:"value"`
}

// Ref is the canonical "txHash#index" identity used for the per-session
// locked/successful/refunded tracking sets.
func (u *Utxo) Ref() string {
	return fmt.Sprintf("%s#%d", u.TxHash, u.Index)
}

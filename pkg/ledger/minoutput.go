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

// Ledger constants for the minimum-output-lovelace formula. WordCost is the
// protocol's coinsPerUTxOWord; the policy id length is fixed by the hash
// used to derive policy ids.
const (
	DefaultWordCost   = int64(34_482)
	PolicyIDByteLen   = 28
	adaOnlyWords      = 29
	bundleSizeBase    = 6
	outputOverhead    = 27
	datumHashOverhead = 10
)

// MinOutputLovelace implements the ledger's per-output minimum coin formula.
// Every output of a transaction must meet or exceed this value or the ledger
// rejects the whole transaction, so it is checked both when computing the
// buyer output and again for every output at build time.
func MinOutputLovelace(b Bundle, wordCost int64, hasDatumHash bool) int64 {
	if b.IsCoinOnly() {
		return wordCost * adaOnlyWords
	}

	distinctPolicies := map[string]bool{}
	tokenCount := int64(0)
	assetNameBytes := int64(0)
	for _, asset := range b.Assets() {
		distinctPolicies[asset.PolicyID] = true
		tokenCount++
		assetNameBytes += int64(asset.AssetNameLen())
	}

	packed := int64(len(distinctPolicies))*PolicyIDByteLen + tokenCount*12 + assetNameBytes
	valueSize := bundleSizeBase + (packed+7)/8

	words := outputOverhead + valueSize
	if hasDatumHash {
		words += datumHashOverhead
	}
	return wordCost * words
}

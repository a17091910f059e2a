// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msgs

import (
	"fmt"
	"strings"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

const mintvendPrefix = "MV01"

var registered = false
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	if !registered {
		i18n.RegisterPrefix(mintvendPrefix, "Mintvend Sale Engine")
		registered = true
	}
	if !strings.HasPrefix(key, mintvendPrefix) {
		panic(fmt.Errorf("must have prefix '%s': %s", mintvendPrefix, key))
	}
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (

	// Persistence MV0101XX
	MsgPersistenceInvalidType         = ffe("MV010100", "Invalid persistence type: %s")
	MsgPersistenceMissingURI          = ffe("MV010101", "Missing database connection URI")
	MsgPersistenceInitFailed          = ffe("MV010102", "Database init failed")
	MsgPersistenceMigrationFailed     = ffe("MV010103", "Database migration failed")
	MsgPersistenceMissingMigrationDir = ffe("MV010104", "Missing database migration directory for autoMigrate")

	// Allocation MV0102XX
	MsgAllocSaleFullyAllocated     = ffe("MV010200", "Sale %s fully allocated: requested=%d allocated=%d releaseQuantity=%d")
	MsgAllocInsufficientMintable   = ffe("MV010201", "Collection fully minted for sale %s: requested=%d mintable=%d")
	MsgAllocLogReadFailed          = ffe("MV010202", "Failed to read allocation record for sale %s")
	MsgAllocLogAppendFailed        = ffe("MV010203", "Failed to append to allocation record for sale %s")
	MsgAllocLogRemoveFailed        = ffe("MV010204", "Failed to remove entries from allocation record for sale %s")
	MsgAllocSessionOpenFailed      = ffe("MV010205", "Failed to open allocation session for sale %s")
	MsgAllocSessionRecordMismatch  = ffe("MV010206", "Allocation record for sale %s names token %s that is not in the collection catalog")
	MsgAllocInvalidRequestQuantity = ffe("MV010207", "Invalid allocation quantity %d for purchase attempt %s")

	// Purchase MV0103XX
	MsgPurchaseSaleInactive        = ffe("MV010300", "Sale %s is not active")
	MsgPurchaseSaleNotStarted      = ffe("MV010301", "Sale %s has not started (start=%s now=%s)")
	MsgPurchaseSaleEnded           = ffe("MV010302", "Sale %s has ended (end=%s now=%s)")
	MsgPurchasePaymentInsufficient = ffe("MV010303", "Payment of %d lovelace is below the price per token %d for sale %s")
	MsgPurchaseMaxAllowedExceeded  = ffe("MV010304", "Requested quantity %d exceeds the maximum allowed purchase quantity %d for sale %s")
	MsgPurchaseBuyerAddressUnknown = ffe("MV010305", "Unable to determine buyer address for payment %s")

	// Transaction building MV0104XX
	MsgTxInOutMismatch           = ffe("MV010400", "Transaction input and output values do not balance for unit %s: in=%d out=%d")
	MsgTxNoInputs                = ffe("MV010401", "Transaction has no inputs")
	MsgTxNoOutputs               = ffe("MV010402", "Transaction has no outputs")
	MsgTxOutputBelowMinimum      = ffe("MV010403", "Output %d to %s carries %d lovelace which is below the ledger minimum %d")
	MsgTxFeeExceedsLastOutput    = ffe("MV010404", "Computed fee %d exceeds the lovelace %d of the fee-absorbing output")
	MsgTxInvalidAddress          = ffe("MV010405", "Failed to decode ledger address '%s'")
	MsgTxInvalidHash             = ffe("MV010406", "Invalid transaction hash '%s'")
	MsgTxInvalidAssetName        = ffe("MV010407", "Invalid asset name hex '%s'")
	MsgTxEncodeFailed            = ffe("MV010408", "Failed to encode transaction")
	MsgTxSubmitWrongHashReturned = ffe("MV010409", "Submission returned hash %s which does not match the locally calculated hash %s")
	MsgTxInvalidPolicyID         = ffe("MV010410", "Invalid policy id '%s'")

	// Chain data provider MV0105XX
	MsgChainRequestFailed = ffe("MV010500", "Chain data request %s failed")
	MsgChainStatusError   = ffe("MV010501", "Chain data request %s returned status %d: %s")
	MsgChainEmptyTxIO     = ffe("MV010502", "Chain data provider returned no inputs for transaction %s")

	// Keychain MV0106XX
	MsgKeychainFileLoadFailed = ffe("MV010600", "Failed to load keychain file %s")
	MsgKeychainPolicyNotFound = ffe("MV010601", "No minting keychain configured for policy %s")
	MsgKeychainInvalidKey     = ffe("MV010602", "Invalid signing key for policy %s: expected %d hex chars of ed25519 seed")

	// Engine / config MV0107XX
	MsgConfigFileLoadFailed      = ffe("MV010700", "Failed to load configuration file %s")
	MsgConfigFileParseFailed     = ffe("MV010701", "Failed to parse configuration file %s")
	MsgConfigMissingWorkerID     = ffe("MV010702", "Missing worker id in configuration")
	MsgCatalogSaleNotFound       = ffe("MV010703", "Sale %s not found")
	MsgCatalogCollectionNotFound = ffe("MV010704", "Collection %s not found")
)

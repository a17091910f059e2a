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
	"crypto/ed25519"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/fxamacker/cbor/v2"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/mintvend/mintvend/internal/keychain"
	"github.com/mintvend/mintvend/internal/msgs"
	"github.com/mintvend/mintvend/pkg/ledger"
	"golang.org/x/crypto/blake2b"
)

// transaction body map keys
const (
	bodyKeyInputs  = uint64(0)
	bodyKeyOutputs = uint64(1)
	bodyKeyFee     = uint64(2)
	bodyKeyTTL     = uint64(3)
	bodyKeyAuxHash = uint64(7)
	bodyKeyMint    = uint64(9)
)

// witness set map keys
const (
	witnessKeyVKeys         = uint64(0)
	witnessKeyNativeScripts = uint64(1)
)

// native script constructor tags
const (
	scriptTagSig    = uint64(0)
	scriptTagAllOf  = uint64(1)
	scriptTagBefore = uint64(5)
)

var cborEnc cbor.EncMode

func init() {
	var err error
	cborEnc, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

type encodedTx struct {
	txBytes   []byte
	bodyBytes []byte
	txHash    string
}

// encodeSignedTx serializes and signs the transaction at the given fee.
// The body is encoded once, and the exact body bytes are both hashed (the
// transaction hash is the blake2b-256 of the body) and embedded verbatim in
// the outer transaction array, so the submitted bytes can never drift from
// the hash that was signed.
func encodeSignedTx(ctx context.Context, cmd *BuildCommand, outputs []Output, fee int64, ttl uint64) (*encodedTx, error) {
	body := map[uint64]interface{}{
		bodyKeyFee: fee,
		bodyKeyTTL: ttl,
	}

	inputs, err := encodeInputs(ctx, cmd.Inputs)
	if err != nil {
		return nil, err
	}
	body[bodyKeyInputs] = inputs

	outputsEnc := make([]interface{}, len(outputs))
	for i, out := range outputs {
		addrBytes, err := decodeAddress(ctx, out.Address)
		if err != nil {
			return nil, err
		}
		outputsEnc[i] = []interface{}{cbor.ByteString(addrBytes), encodeValue(out.Value)}
	}
	body[bodyKeyOutputs] = outputsEnc

	var auxBytes []byte
	if cmd.Metadata != nil {
		if auxBytes, err = cborEnc.Marshal(cmd.Metadata); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgTxEncodeFailed)
		}
		auxHash := blake2b.Sum256(auxBytes)
		body[bodyKeyAuxHash] = cbor.ByteString(auxHash[:])
	}

	minting := len(cmd.Mint) > 0
	if minting {
		mint, err := encodeMint(ctx, cmd.Mint)
		if err != nil {
			return nil, err
		}
		body[bodyKeyMint] = mint
	}

	bodyBytes, err := cborEnc.Marshal(body)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgTxEncodeFailed)
	}
	bodyHash := blake2b.Sum256(bodyBytes)

	witnesses := map[uint64]interface{}{
		witnessKeyVKeys: signBody(cmd.KeyChain, minting, bodyHash[:]),
	}
	if minting {
		script, err := policyScript(&cmd.KeyChain.Policy)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgTxEncodeFailed)
		}
		witnesses[witnessKeyNativeScripts] = []interface{}{script}
	}

	tx := []interface{}{cbor.RawMessage(bodyBytes), witnesses}
	if auxBytes != nil {
		tx = append(tx, cbor.RawMessage(auxBytes))
	} else {
		tx = append(tx, nil)
	}
	txBytes, err := cborEnc.Marshal(tx)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgTxEncodeFailed)
	}

	return &encodedTx{
		txBytes:   txBytes,
		bodyBytes: bodyBytes,
		txHash:    hex.EncodeToString(bodyHash[:]),
	}, nil
}

func encodeInputs(ctx context.Context, inputs []*ledger.Utxo) ([]interface{}, error) {
	sorted := make([]*ledger.Utxo, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TxHash != sorted[j].TxHash {
			return sorted[i].TxHash < sorted[j].TxHash
		}
		return sorted[i].Index < sorted[j].Index
	})
	enc := make([]interface{}, len(sorted))
	for i, in := range sorted {
		hashBytes, err := hex.DecodeString(in.TxHash)
		if err != nil || len(hashBytes) != 32 {
			return nil, i18n.NewError(ctx, msgs.MsgTxInvalidHash, in.TxHash)
		}
		enc[i] = []interface{}{cbor.ByteString(hashBytes), in.Index}
	}
	return enc, nil
}

// encodeValue emits the compact form for coin-only values, and the
// [coin, multiasset] pair otherwise.
func encodeValue(b ledger.Bundle) interface{} {
	if b.IsCoinOnly() {
		return b.Lovelace()
	}
	assets := map[cbor.ByteString]map[cbor.ByteString]int64{}
	for unit, quantity := range b {
		if unit == ledger.UnitLovelace {
			continue
		}
		asset, _ := ledger.ParseUnit(unit)
		policyBytes, _ := hex.DecodeString(asset.PolicyID)
		nameBytes, _ := hex.DecodeString(asset.AssetNameHex)
		policyKey := cbor.ByteString(policyBytes)
		if assets[policyKey] == nil {
			assets[policyKey] = map[cbor.ByteString]int64{}
		}
		assets[policyKey][cbor.ByteString(nameBytes)] = quantity
	}
	return []interface{}{b.Lovelace(), assets}
}

func encodeMint(ctx context.Context, mint ledger.Bundle) (map[cbor.ByteString]map[cbor.ByteString]int64, error) {
	enc := map[cbor.ByteString]map[cbor.ByteString]int64{}
	for unit, quantity := range mint {
		asset, ok := ledger.ParseUnit(unit)
		if !ok {
			return nil, i18n.NewError(ctx, msgs.MsgTxInvalidAssetName, unit)
		}
		policyBytes, err := hex.DecodeString(asset.PolicyID)
		if err != nil || len(policyBytes) != ledger.PolicyIDByteLen {
			return nil, i18n.NewError(ctx, msgs.MsgTxInvalidPolicyID, asset.PolicyID)
		}
		nameBytes, err := hex.DecodeString(asset.AssetNameHex)
		if err != nil {
			return nil, i18n.NewError(ctx, msgs.MsgTxInvalidAssetName, asset.AssetNameHex)
		}
		policyKey := cbor.ByteString(policyBytes)
		if enc[policyKey] == nil {
			enc[policyKey] = map[cbor.ByteString]int64{}
		}
		enc[policyKey][cbor.ByteString(nameBytes)] = quantity
	}
	return enc, nil
}

// policyScript builds the native script that guards the minting policy:
// all configured policy keys must sign, and when an expiry slot is set the
// transaction must land before it.
func policyScript(pk *keychain.PolicyKeys) (interface{}, error) {
	clauses := make([]interface{}, 0, len(pk.SigningKeys)+1)
	for _, key := range pk.SigningKeys {
		keyHash, err := blake2b224(key.Public().(ed25519.PublicKey))
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, []interface{}{scriptTagSig, cbor.ByteString(keyHash)})
	}
	if pk.ExpirySlot != nil {
		clauses = append(clauses, []interface{}{scriptTagBefore, *pk.ExpirySlot})
	}
	return []interface{}{scriptTagAllOf, clauses}, nil
}

// signBody produces one vkey witness per distinct signing key. Payment keys
// always sign; policy keys sign only when the transaction mints.
func signBody(kc *keychain.MintingKeyChain, minting bool, bodyHash []byte) []interface{} {
	keys := make([]ed25519.PrivateKey, 0, len(kc.PaymentKeys)+len(kc.Policy.SigningKeys))
	keys = append(keys, kc.PaymentKeys...)
	if minting {
		keys = append(keys, kc.Policy.SigningKeys...)
	}
	witnesses := make([]interface{}, 0, len(keys))
	seen := map[string]bool{}
	for _, key := range keys {
		pub := key.Public().(ed25519.PublicKey)
		if seen[string(pub)] {
			continue
		}
		seen[string(pub)] = true
		sig := ed25519.Sign(key, bodyHash)
		witnesses = append(witnesses, []interface{}{cbor.ByteString(pub), cbor.ByteString(sig)})
	}
	return witnesses
}

func blake2b224(data []byte) ([]byte, error) {
	h, err := blake2b.New(28, nil)
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// decodeAddress accepts bech32 addresses (addr..., addr_test..., stake...)
// and falls back to raw hex for pre-decoded ones.
func decodeAddress(ctx context.Context, addr string) ([]byte, error) {
	if strings.HasPrefix(addr, "addr") || strings.HasPrefix(addr, "stake") {
		_, data5, err := bech32.DecodeNoLimit(addr)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgTxInvalidAddress, addr)
		}
		data, err := bech32.ConvertBits(data5, 5, 8, false)
		if err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgTxInvalidAddress, addr)
		}
		return data, nil
	}
	data, err := hex.DecodeString(addr)
	if err != nil || len(data) == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgTxInvalidAddress, addr)
	}
	return data, nil
}

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

package keychain

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/msgs"
)

// PolicyKeys are the keys behind a minting policy: the native script
// requires a signature from every one of them, plus an optional expiry slot
// after which the policy can no longer mint.
type PolicyKeys struct {
	SigningKeys []ed25519.PrivateKey
	ExpirySlot  *uint64
}

// MintingKeyChain carries everything needed to sign a mint transaction for
// one collection: the payment keys controlling the sale address, and the
// policy keys.
type MintingKeyChain struct {
	PaymentKeys []ed25519.PrivateKey
	Policy      PolicyKeys
}

type Provider interface {
	GetMintingKeyChain(ctx context.Context, policyID string) (*MintingKeyChain, error)
}

type Config struct {
	File string `yaml:"file"`
}

type policyFileEntry struct {
	PaymentKeys       []string `yaml:"paymentKeys"`
	PolicySigningKeys []string `yaml:"policySigningKeys"`
	ExpirySlot        *uint64  `yaml:"expirySlot"`
}

type keychainFile struct {
	Policies map[string]*policyFileEntry `yaml:"policies"`
}

type fileProvider struct {
	keychains map[string]*MintingKeyChain
}

const seedHexLen = 2 * ed25519.SeedSize

// NewFileProvider loads every configured keychain up front, so a bad key is
// a startup failure rather than a mid-sale one.
func NewFileProvider(ctx context.Context, conf *Config) (Provider, error) {
	var parsed keychainFile
	if err := confutil.ReadAndParseYAMLFile(ctx, conf.File, &parsed); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgKeychainFileLoadFailed, conf.File)
	}
	fp := &fileProvider{keychains: make(map[string]*MintingKeyChain, len(parsed.Policies))}
	for policyID, entry := range parsed.Policies {
		kc := &MintingKeyChain{Policy: PolicyKeys{ExpirySlot: entry.ExpirySlot}}
		for _, seedHex := range entry.PaymentKeys {
			key, err := parseSigningKey(ctx, policyID, seedHex)
			if err != nil {
				return nil, err
			}
			kc.PaymentKeys = append(kc.PaymentKeys, key)
		}
		for _, seedHex := range entry.PolicySigningKeys {
			key, err := parseSigningKey(ctx, policyID, seedHex)
			if err != nil {
				return nil, err
			}
			kc.Policy.SigningKeys = append(kc.Policy.SigningKeys, key)
		}
		fp.keychains[policyID] = kc
	}
	return fp, nil
}

func parseSigningKey(ctx context.Context, policyID, seedHex string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, i18n.NewError(ctx, msgs.MsgKeychainInvalidKey, policyID, seedHexLen)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func (fp *fileProvider) GetMintingKeyChain(ctx context.Context, policyID string) (*MintingKeyChain, error) {
	kc, ok := fp.keychains[policyID]
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgKeychainPolicyNotFound, policyID)
	}
	return kc, nil
}

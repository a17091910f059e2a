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

import (
	"encoding/hex"
	"strings"
)

// UnitLovelace is the unit string of the ledger's native coin. Every other
// unit is "<policyIdHex>.<assetNameHex>".
const UnitLovelace = "lovelace"

// Bundle is a multi-asset value: unit -> quantity. At most one entry per
// unit; a unit that is absent behaves as quantity zero.
type Bundle map[string]int64

func LovelaceOnly(quantity int64) Bundle {
	return Bundle{UnitLovelace: quantity}
}

func (b Bundle) Lovelace() int64 {
	return b[UnitLovelace]
}

// IsCoinOnly returns true if the bundle carries no native assets.
func (b Bundle) IsCoinOnly() bool {
	for unit, quantity := range b {
		if unit != UnitLovelace && quantity != 0 {
			return false
		}
	}
	return true
}

func (b Bundle) Clone() Bundle {
	c := make(Bundle, len(b))
	for unit, quantity := range b {
		c[unit] = quantity
	}
	return c
}

// Equal compares per-unit quantities, treating zero and absent as the same.
func (b Bundle) Equal(o Bundle) bool {
	for unit, quantity := range b {
		if o[unit] != quantity {
			return false
		}
	}
	for unit, quantity := range o {
		if b[unit] != quantity {
			return false
		}
	}
	return true
}

// Add returns the per-unit sum of two bundles. Neither input is mutated.
func Add(a, b Bundle) Bundle {
	sum := a.Clone()
	for unit, quantity := range b {
		sum[unit] += quantity
	}
	sum.prune()
	return sum
}

// Subtract returns the per-unit difference a-b. It never clamps: callers
// must have established sufficiency, a negative result quantity is a
// programming error not a domain state.
func Subtract(a, b Bundle) Bundle {
	diff := a.Clone()
	for unit, quantity := range b {
		diff[unit] -= quantity
	}
	diff.prune()
	return diff
}

func (b Bundle) prune() {
	for unit, quantity := range b {
		if quantity == 0 && unit != UnitLovelace {
			delete(b, unit)
		}
	}
}

// AssetUnit is a parsed non-coin unit.
type AssetUnit struct {
	PolicyID     string
	AssetNameHex string
}

func (u AssetUnit) String() string {
	return u.PolicyID + "." + u.AssetNameHex
}

// AssetNameLen is the byte length of the decoded asset name.
func (u AssetUnit) AssetNameLen() int {
	name, err := hex.DecodeString(u.AssetNameHex)
	if err != nil {
		return 0
	}
	return len(name)
}

func ParseUnit(unit string) (AssetUnit, bool) {
	if unit == UnitLovelace {
		return AssetUnit{}, false
	}
	policyID, assetNameHex, found := strings.Cut(unit, ".")
	if !found || policyID == "" {
		return AssetUnit{}, false
	}
	return AssetUnit{PolicyID: policyID, AssetNameHex: assetNameHex}, true
}

// Assets returns the parsed non-coin units of the bundle, unordered.
func (b Bundle) Assets() []AssetUnit {
	assets := make([]AssetUnit, 0, len(b))
	for unit := range b {
		if asset, ok := ParseUnit(unit); ok {
			assets = append(assets, asset)
		}
	}
	return assets
}

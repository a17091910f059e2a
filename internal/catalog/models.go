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

package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Sale is immutable for the duration of a sale-session; changing its terms
// requires a new session.
type Sale struct {
	ID                         uuid.UUID  `gorm:"type:uuid;primaryKey" yaml:"id"`
	CollectionID               uuid.UUID  `gorm:"type:uuid;index" yaml:"collectionId"`
	Active                     bool       `yaml:"active"`
	LovelacesPerToken          int64      `yaml:"lovelacesPerToken"`
	SaleAddress                string     `gorm:"type:text" yaml:"saleAddress"`
	CreatorAddress             string     `gorm:"type:text" yaml:"creatorAddress"` // empty when the sale has no creator cut
	ProceedsAddress            string     `gorm:"type:text" yaml:"proceedsAddress"`
	PostPurchaseMargin         float64    `yaml:"postPurchaseMargin"` // 0..1 share of post-purchase lovelace routed to proceeds
	TotalReleaseQuantity       int        `yaml:"totalReleaseQuantity"`
	MaxAllowedPurchaseQuantity int        `yaml:"maxAllowedPurchaseQuantity"`
	Start                      *time.Time `yaml:"start"`
	End                        *time.Time `yaml:"end"`
	CreatedAt                  time.Time  `yaml:"-"`
	UpdatedAt                  time.Time  `yaml:"-"`
}

type Collection struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"type:text"`
	PolicyID   string    `gorm:"type:text;index"`
	Publishers []string  `gorm:"type:text;serializer:json"`
	Creators   []string  `gorm:"type:text;serializer:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Royalty struct {
	Rate    string `gorm:"type:text"`
	Address string `gorm:"type:text"`
}

func (r *Royalty) IsSet() bool {
	return r != nil && r.Address != ""
}

type TokenFile struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Src       string `json:"src"`
}

// Token is created as mintable and is reserved ("allocated") by the
// allocation store; a successful distribution is terminal for the token
// within the session.
type Token struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	CollectionID uuid.UUID         `gorm:"type:uuid;index"`
	AssetName    string            `gorm:"type:text"`
	Name         string            `gorm:"type:text"`
	Description  string            `gorm:"type:text"`
	Image        string            `gorm:"type:text"`
	MediaType    string            `gorm:"type:text"`
	Files        []TokenFile       `gorm:"type:text;serializer:json"`
	Attributes   map[string]string `gorm:"type:text;serializer:json"`
	Royalty      Royalty           `gorm:"embedded;embeddedPrefix:royalty_"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

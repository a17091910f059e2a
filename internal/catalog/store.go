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
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/mintvend/mintvend/internal/confutil"
	"github.com/mintvend/mintvend/internal/msgs"
	"github.com/mintvend/mintvend/internal/persistence"
	"gorm.io/gorm"
)

type Config struct {
	AutoMigrate *bool `yaml:"autoMigrate"`
}

// Store is the read surface the sale pipeline needs: the poller reads the
// aggregates exactly once per session open, all mutable sale-session state
// lives with the allocation store.
type Store interface {
	ActiveSales(ctx context.Context) ([]*Sale, error)
	GetSale(ctx context.Context, id uuid.UUID) (*Sale, error)
	GetCollection(ctx context.Context, id uuid.UUID) (*Collection, error)
	MintableTokens(ctx context.Context, collectionID uuid.UUID) ([]*Token, error)
}

type store struct {
	p persistence.Persistence
}

func NewStore(ctx context.Context, conf *Config, p persistence.Persistence) (Store, error) {
	if confutil.Bool(conf.AutoMigrate, false) {
		if err := p.DB().WithContext(ctx).AutoMigrate(&Sale{}, &Collection{}, &Token{}); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgPersistenceMigrationFailed)
		}
	}
	return &store{p: p}, nil
}

func (s *store) ActiveSales(ctx context.Context) ([]*Sale, error) {
	var sales []*Sale
	err := s.p.DB().WithContext(ctx).Where("active = ?", true).Find(&sales).Error
	return sales, err
}

func (s *store) GetSale(ctx context.Context, id uuid.UUID) (*Sale, error) {
	var sale Sale
	err := s.p.DB().WithContext(ctx).First(&sale, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, i18n.NewError(ctx, msgs.MsgCatalogSaleNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *store) GetCollection(ctx context.Context, id uuid.UUID) (*Collection, error) {
	var collection Collection
	err := s.p.DB().WithContext(ctx).First(&collection, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, i18n.NewError(ctx, msgs.MsgCatalogCollectionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

func (s *store) MintableTokens(ctx context.Context, collectionID uuid.UUID) ([]*Token, error) {
	var tokens []*Token
	err := s.p.DB().WithContext(ctx).Where("collection_id = ?", collectionID).Order("created_at").Find(&tokens).Error
	return tokens, err
}

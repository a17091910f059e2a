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

package persistence

import (
	"context"

	"github.com/mintvend/mintvend/internal/confutil"
)

// NewUnitTestPersistence opens an in-memory SQLite DB for package tests.
// Schema setup is the caller's job (the catalog store automigrates).
func NewUnitTestPersistence(ctx context.Context) (p Persistence, cleanup func(), err error) {
	p, err = NewPersistence(ctx, &Config{
		Type: TypeSQLite,
		SQLite: SQLiteConfig{SQLDBConfig{
			URI:         "file::memory:?cache=shared",
			AutoMigrate: confutil.P(false),
		}},
	})
	if err != nil {
		return nil, nil, err
	}
	return p, p.Close, nil
}

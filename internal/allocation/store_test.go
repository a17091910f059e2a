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

package allocation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/mintvend/mintvend/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTokens(n int) []*catalog.Token {
	tokens := make([]*catalog.Token, n)
	for i := range tokens {
		tokens[i] = &catalog.Token{
			ID:        uuid.New(),
			AssetName: fmt.Sprintf("SpaceBud%03d", i),
		}
	}
	return tokens
}

func makeSale(releaseQuantity int) *catalog.Sale {
	return &catalog.Sale{ID: uuid.New(), TotalReleaseQuantity: releaseQuantity}
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&Config{Directory: t.TempDir()})
	sale := makeSale(10)

	session, err := store.OpenSession(ctx, sale, makeTokens(10))
	require.NoError(t, err)

	picked, err := session.Allocate(ctx, "tx0#0", 3)
	require.NoError(t, err)
	require.Len(t, picked, 3)
	allocated, mintable := session.Counts()
	assert.Equal(t, 3, allocated)
	assert.Equal(t, 7, mintable)

	// the same tokens cannot be handed out again
	seen := map[string]bool{}
	for _, token := range picked {
		seen[token.AssetName] = true
	}
	rest, err := session.Allocate(ctx, "tx0#1", 7)
	require.NoError(t, err)
	for _, token := range rest {
		assert.False(t, seen[token.AssetName])
	}

	session.Release(ctx, picked)
	allocated, mintable = session.Counts()
	assert.Equal(t, 7, allocated)
	assert.Equal(t, 3, mintable)
}

func TestReleaseSkipsTokensNotAllocated(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&Config{Directory: t.TempDir()})
	sale := makeSale(10)

	session, err := store.OpenSession(ctx, sale, makeTokens(10))
	require.NoError(t, err)

	picked, err := session.Allocate(ctx, "tx0#0", 2)
	require.NoError(t, err)

	// a repeated release must not duplicate tokens in the pool or drive
	// the allocated count negative
	session.Release(ctx, picked)
	session.Release(ctx, picked)
	allocated, mintable := session.Counts()
	assert.Zero(t, allocated)
	assert.Equal(t, 10, mintable)

	// releasing a token that was never allocated is skipped too
	session.Release(ctx, []*catalog.Token{{ID: uuid.New(), AssetName: "Impostor"}})
	allocated, mintable = session.Counts()
	assert.Zero(t, allocated)
	assert.Equal(t, 10, mintable)

	// draining the pool still hands every token out exactly once
	all, err := session.Allocate(ctx, "tx0#1", 10)
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, token := range all {
		require.False(t, seen[token.AssetName], "token %s allocated twice", token.AssetName)
		seen[token.AssetName] = true
	}
}

func TestOpenSessionWritesPoolSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sale := makeSale(10)
	tokens := makeTokens(10)

	store := NewStore(&Config{Directory: dir})
	session, err := store.OpenSession(ctx, sale, tokens)
	require.NoError(t, err)
	_, err = session.Allocate(ctx, "tx0#0", 4)
	require.NoError(t, err)

	// the snapshot records the full original pool, untouched by allocations
	snapshot := newFileLog(filepath.Join(dir, sale.ID.String()+".pool"))
	names, err := snapshot.ReadAll(ctx)
	require.NoError(t, err)
	require.Len(t, names, 10)
	for i, token := range tokens {
		assert.Equal(t, token.AssetName, names[i])
	}

	// a restart does not rewrite it
	restarted := NewStore(&Config{Directory: dir})
	_, err = restarted.OpenSession(ctx, sale, tokens)
	require.NoError(t, err)
	names, err = snapshot.ReadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 10)
}

func TestRestoreAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sale := makeSale(10)
	tokens := makeTokens(10)

	store := NewStore(&Config{Directory: dir})
	session, err := store.OpenSession(ctx, sale, tokens)
	require.NoError(t, err)
	picked, err := session.Allocate(ctx, "tx0#0", 4)
	require.NoError(t, err)

	// a new store over the same directory is a process restart
	restarted := NewStore(&Config{Directory: dir})
	restored, err := restarted.OpenSession(ctx, sale, tokens)
	require.NoError(t, err)
	allocated, mintable := restored.Counts()
	assert.Equal(t, 4, allocated)
	assert.Equal(t, 6, mintable)

	// previously allocated tokens stay out of the pool
	pickedNames := map[string]bool{}
	for _, token := range picked {
		pickedNames[token.AssetName] = true
	}
	rest, err := restored.Allocate(ctx, "tx1#0", 6)
	require.NoError(t, err)
	for _, token := range rest {
		assert.False(t, pickedNames[token.AssetName])
	}
}

func TestOpenSessionReturnsLiveSession(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&Config{Directory: t.TempDir()})
	sale := makeSale(10)
	tokens := makeTokens(10)

	s1, err := store.OpenSession(ctx, sale, tokens)
	require.NoError(t, err)
	s2, err := store.OpenSession(ctx, sale, tokens)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestRestoreRejectsUnknownAssetName(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	sale := makeSale(10)
	tokens := makeTokens(10)

	store := NewStore(&Config{Directory: dir})
	session, err := store.OpenSession(ctx, sale, tokens)
	require.NoError(t, err)
	_, err = session.Allocate(ctx, "tx0#0", 1)
	require.NoError(t, err)

	// the catalog shrank underneath the durable record
	restarted := NewStore(&Config{Directory: dir})
	_, err = restarted.OpenSession(ctx, sale, makeTokens(0))
	assert.Regexp(t, "MV010206", err)
}

func TestAllocateConcurrentExclusivity(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&Config{Directory: t.TempDir()})
	sale := makeSale(50)

	session, err := store.OpenSession(ctx, sale, makeTokens(50))
	require.NoError(t, err)

	results := make(chan *catalog.Token, 50)
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			picked, err := session.Allocate(ctx, fmt.Sprintf("tx%d#0", i), 2)
			assert.NoError(t, err)
			for _, token := range picked {
				results <- token
			}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for token := range results {
		assert.False(t, seen[token.AssetName], "token %s allocated twice", token.AssetName)
		seen[token.AssetName] = true
	}
	assert.Len(t, seen, 50)
	assert.True(t, session.Exhausted())
}

func TestAllocateRefusalsLeavePoolsUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&Config{Directory: t.TempDir()})

	// release quantity caps the sale below the collection size
	session, err := store.OpenSession(ctx, makeSale(2), makeTokens(10))
	require.NoError(t, err)
	_, err = session.Allocate(ctx, "tx0#0", 3)
	require.Error(t, err)
	var allocErr *AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, ReasonSaleFullyAllocated, allocErr.Reason)
	assert.Regexp(t, "MV010200", err)

	// the collection itself can run dry first
	session2, err := store.OpenSession(ctx, makeSale(100), makeTokens(2))
	require.NoError(t, err)
	_, err = session2.Allocate(ctx, "tx0#0", 3)
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, ReasonCollectionFullyMinted, allocErr.Reason)
	assert.Regexp(t, "MV010201", err)

	for _, s := range []*Session{session, session2} {
		allocated, mintable := s.Counts()
		assert.Zero(t, allocated)
		assert.NotZero(t, mintable)
	}

	_, err = session.Allocate(ctx, "tx0#0", 0)
	assert.Regexp(t, "MV010207", err)
}

func TestUtxoLockStates(t *testing.T) {
	ctx := context.Background()
	store := NewStore(&Config{Directory: t.TempDir()})
	session, err := store.OpenSession(ctx, makeSale(5), makeTokens(5))
	require.NoError(t, err)

	assert.True(t, session.TryLockUtxo("tx0#0"))
	assert.False(t, session.TryLockUtxo("tx0#0"))

	session.MarkSuccessful("tx0#0", 2)
	assert.False(t, session.TryLockUtxo("tx0#0"))
	assert.Equal(t, int64(2), session.Distributed())

	assert.True(t, session.TryLockUtxo("tx1#0"))
	session.MarkRefunded("tx1#0")
	assert.False(t, session.TryLockUtxo("tx1#0"))

	assert.True(t, session.TryLockUtxo("tx2#0"))
	session.MarkFailed("tx2#0")
	assert.False(t, session.TryLockUtxo("tx2#0"))
}

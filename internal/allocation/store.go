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
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/mintvend/mintvend/internal/catalog"
	"github.com/mintvend/mintvend/internal/msgs"
)

// Allocation failure reasons, stable strings that end up in refund messages
// and logs.
const (
	ReasonSaleFullyAllocated    = "salefullyallocated"
	ReasonCollectionFullyMinted = "collectionfullyminted"
)

// AllocationError carries the machine-readable reason an allocation was
// refused, alongside the coded error.
type AllocationError struct {
	Reason string
	err    error
}

func (e *AllocationError) Error() string {
	return e.err.Error()
}

func (e *AllocationError) Unwrap() error {
	return e.err
}

type Config struct {
	Directory string `yaml:"directory"`
}

type Store struct {
	dir      string
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewStore(conf *Config) *Store {
	return &Store{
		dir:      conf.Directory,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Payment UTXO processing states, tracked in memory per session so the
// poller never dispatches the same payment twice within a process lifetime.
const (
	utxoLocked     = "locked"
	utxoSuccessful = "successful"
	utxoRefunded   = "refunded"
	utxoFailed     = "failed"
)

// Session serializes all allocations for one sale. The durable log is
// written before the session lock is released, so the exclusivity guarantee
// survives a crash at any point.
type Session struct {
	saleID          uuid.UUID
	releaseQuantity int

	mu            sync.Mutex
	log           DurableLog
	pool          []*catalog.Token
	allocatedPool map[string]*catalog.Token
	distributed   int64
	utxoStates    map[string]string
}

// OpenSession restores (or creates) the allocation session for a sale. The
// durable log partitions the collection's mintable tokens: logged asset
// names were handed out before a restart and stay out of the pool.
// Sessions are cached, so reopening the same sale returns the live session.
func (s *Store) OpenSession(ctx context.Context, sale *catalog.Sale, mintable []*catalog.Token) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[sale.ID]; ok {
		return session, nil
	}

	durableLog := newFileLog(filepath.Join(s.dir, sale.ID.String()+".allocations"))
	restored, err := durableLog.ReadAll(ctx)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgAllocLogReadFailed, sale.ID)
	}

	byName := make(map[string]*catalog.Token, len(mintable))
	for _, token := range mintable {
		byName[token.AssetName] = token
	}
	allocatedPool := make(map[string]*catalog.Token, len(restored))
	for _, assetName := range restored {
		token, ok := byName[assetName]
		if !ok {
			return nil, i18n.NewError(ctx, msgs.MsgAllocSessionRecordMismatch, sale.ID, assetName)
		}
		allocatedPool[assetName] = token
		delete(byName, assetName)
	}
	pool := make([]*catalog.Token, 0, len(byName))
	for _, token := range mintable {
		if _, ok := byName[token.AssetName]; ok {
			pool = append(pool, token)
		}
	}

	// keep an audit snapshot of the full mintable pool alongside the
	// allocation log, written once when the session is first created
	snapshot := newFileLog(filepath.Join(s.dir, sale.ID.String()+".pool"))
	existing, err := snapshot.ReadAll(ctx)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgAllocLogReadFailed, sale.ID)
	}
	if len(existing) == 0 {
		names := make([]string, len(mintable))
		for i, token := range mintable {
			names[i] = token.AssetName
		}
		if err := snapshot.Append(ctx, names...); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgAllocLogAppendFailed, sale.ID)
		}
	}

	session := &Session{
		saleID:          sale.ID,
		releaseQuantity: sale.TotalReleaseQuantity,
		log:             durableLog,
		pool:            pool,
		allocatedPool:   allocatedPool,
		utxoStates:      make(map[string]string),
	}
	if len(restored) > 0 {
		log.L(ctx).Infof("Restored allocation session for sale %s: allocated=%d mintable=%d", sale.ID, len(allocatedPool), len(pool))
	}
	s.sessions[sale.ID] = session
	return session, nil
}

// Allocate reserves quantity tokens, chosen uniformly at random from the
// mintable pool, and records them durably before returning. Either all
// requested tokens are reserved or none are.
func (s *Session) Allocate(ctx context.Context, attemptRef string, quantity int) ([]*catalog.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity <= 0 {
		return nil, i18n.NewError(ctx, msgs.MsgAllocInvalidRequestQuantity, quantity, attemptRef)
	}
	if len(s.allocatedPool)+quantity > s.releaseQuantity {
		return nil, &AllocationError{
			Reason: ReasonSaleFullyAllocated,
			err:    i18n.NewError(ctx, msgs.MsgAllocSaleFullyAllocated, s.saleID, quantity, len(s.allocatedPool), s.releaseQuantity),
		}
	}
	if quantity > len(s.pool) {
		return nil, &AllocationError{
			Reason: ReasonCollectionFullyMinted,
			err:    i18n.NewError(ctx, msgs.MsgAllocInsufficientMintable, s.saleID, quantity, len(s.pool)),
		}
	}

	picked := make([]*catalog.Token, quantity)
	lines := make([]string, quantity)
	for i := 0; i < quantity; i++ {
		j := rand.Intn(len(s.pool))
		picked[i] = s.pool[j]
		lines[i] = picked[i].AssetName
		s.pool[j] = s.pool[len(s.pool)-1]
		s.pool = s.pool[:len(s.pool)-1]
	}

	if err := s.log.Append(ctx, lines...); err != nil {
		s.pool = append(s.pool, picked...)
		return nil, i18n.WrapError(ctx, err, msgs.MsgAllocLogAppendFailed, s.saleID)
	}
	for _, token := range picked {
		s.allocatedPool[token.AssetName] = token
	}
	log.L(ctx).Debugf("Allocated %d token(s) for %s: %v", quantity, attemptRef, lines)
	return picked, nil
}

// Release returns tokens to the pool after a failed purchase attempt. Only
// tokens still held in the allocated pool are moved back; anything else is a
// partial-release warning, so a repeated or stray release can never
// duplicate a token in the mintable pool. The log entries are removed
// first; if that fails the tokens stay reserved (never risking a
// double-mint) and the operator is left a warning.
func (s *Session) Release(ctx context.Context, tokens []*catalog.Token) {
	if len(tokens) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	held := make([]*catalog.Token, 0, len(tokens))
	lines := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, ok := s.allocatedPool[token.AssetName]; !ok {
			log.L(ctx).Warnf("Partial release for sale %s: %s is not allocated, skipping", s.saleID, token.AssetName)
			continue
		}
		held = append(held, token)
		lines = append(lines, token.AssetName)
	}
	if len(held) == 0 {
		return
	}
	if err := s.log.Remove(ctx, lines...); err != nil {
		err = i18n.WrapError(ctx, err, msgs.MsgAllocLogRemoveFailed, s.saleID)
		log.L(ctx).Warnf("Leaving %d token(s) reserved after failed release for sale %s: %v: %s", len(held), s.saleID, lines, err)
		return
	}
	for _, token := range held {
		delete(s.allocatedPool, token.AssetName)
	}
	s.pool = append(s.pool, held...)
	log.L(ctx).Infof("Released %d token(s) for sale %s: %v", len(held), s.saleID, lines)
}

// Exhausted is true when no further purchase can ever succeed in this
// session.
func (s *Session) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocatedPool) >= s.releaseQuantity || len(s.pool) == 0
}

// Counts returns the number of tokens allocated so far and the number still
// mintable.
func (s *Session) Counts() (allocated, mintable int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocatedPool), len(s.pool)
}

// Distributed is the number of tokens successfully delivered by this
// process.
func (s *Session) Distributed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distributed
}

// TryLockUtxo claims a payment UTXO for processing. It returns false when
// the UTXO is already in flight or has reached a terminal state.
func (s *Session) TryLockUtxo(ref string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.utxoStates[ref]; ok {
		return false
	}
	s.utxoStates[ref] = utxoLocked
	return true
}

func (s *Session) MarkSuccessful(ref string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxoStates[ref] = utxoSuccessful
	s.distributed += int64(quantity)
}

func (s *Session) MarkRefunded(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxoStates[ref] = utxoRefunded
}

// MarkFailed keeps the UTXO claimed, so a payment that failed terminally is
// not reprocessed on the next poll.
func (s *Session) MarkFailed(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utxoStates[ref] = utxoFailed
}

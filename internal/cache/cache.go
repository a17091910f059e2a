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

package cache

import (
	"time"

	gcache "github.com/Code-Hex/go-generics-cache"
	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"github.com/mintvend/mintvend/internal/confutil"
)

type Config struct {
	Capacity *int    `yaml:"capacity"`
	TTL      *string `yaml:"ttl"`
}

type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, val V)
	Delete(key K)
}

type cache[K comparable, V any] struct {
	cache *lru.Cache[K, V]
}

func NewCache[K comparable, V any](conf *Config, defs *Config) Cache[K, V] {
	c := &cache[K, V]{
		cache: lru.NewCache[K, V](
			lru.WithCapacity(confutil.Int(conf.Capacity, *defs.Capacity)),
		),
	}
	return c
}

func (c *cache[K, V]) Get(key K) (V, bool) {
	return c.cache.Get(key)
}

func (c *cache[K, V]) Set(key K, val V) {
	c.cache.Set(key, val)
}

func (c *cache[K, V]) Delete(key K) {
	c.cache.Delete(key)
}

// TTL caches expire entries after a fixed duration, for values that track a
// moving target (chain tip, protocol parameters).
type ttlCache[K comparable, V any] struct {
	cache *gcache.Cache[K, V]
	ttl   time.Duration
}

func NewTTLCache[K comparable, V any](conf *Config, defs *Config) Cache[K, V] {
	return &ttlCache[K, V]{
		cache: gcache.New(gcache.AsLRU[K, V](
			lru.WithCapacity(confutil.Int(conf.Capacity, *defs.Capacity)),
		)),
		ttl: confutil.Duration(conf.TTL, confutil.Duration(defs.TTL, 0)),
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	return c.cache.Get(key)
}

func (c *ttlCache[K, V]) Set(key K, val V) {
	if c.ttl > 0 {
		c.cache.Set(key, val, gcache.WithExpiration(c.ttl))
	} else {
		c.cache.Set(key, val)
	}
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.cache.Delete(key)
}

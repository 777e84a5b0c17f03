// Copyright 2024 The Erigon Authors
// (modifications)
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package collection

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/transactor"
)

// TransactorSource is a tracker.Source that reads through a Transactor at
// a given, mutable ActionContext.
type TransactorSource struct {
	mu           sync.RWMutex
	transactor   *transactor.Transactor
	collectionID block.CollectionID
	actionContext model.ActionContext
}

// NewTransactorSource constructs a source reading collectionID's blocks
// through tr at the "latest" context.
func NewTransactorSource(tr *transactor.Transactor, collectionID block.CollectionID) *TransactorSource {
	return &TransactorSource{transactor: tr, collectionID: collectionID}
}

// TryGet satisfies tracker.Source.
func (s *TransactorSource) TryGet(id block.ID) (*block.Block, error) {
	s.mu.RLock()
	ctx := s.actionContext
	s.mu.RUnlock()

	res, err := s.transactor.Get(ctx, []block.ID{id})
	if err != nil {
		return nil, err
	}
	return res[id].Block, nil
}

// ActionContext returns the context reads are currently served at.
func (s *TransactorSource) ActionContext() model.ActionContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actionContext
}

// SetActionContext advances the context reads are served at, called once
// a collection's update has pulled the latest log entries.
func (s *TransactorSource) SetActionContext(ctx model.ActionContext) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionContext = ctx
}

// CacheSource wraps any tracker.Source with a read-through LRU cache,
// invalidated per block id as remote log entries are observed.
type CacheSource struct {
	source Source
	cache  *lru.Cache[block.ID, *block.Block]
}

// Source is the minimal read contract CacheSource wraps.
type Source interface {
	TryGet(id block.ID) (*block.Block, error)
}

// NewCacheSource builds a cache of the given size over source.
func NewCacheSource(source Source, size int) (*CacheSource, error) {
	c, err := lru.New[block.ID, *block.Block](size)
	if err != nil {
		return nil, err
	}
	return &CacheSource{source: source, cache: c}, nil
}

// TryGet satisfies tracker.Source, populating the cache on miss.
func (c *CacheSource) TryGet(id block.ID) (*block.Block, error) {
	if b, ok := c.cache.Get(id); ok {
		return b.Clone(), nil
	}
	b, err := c.source.TryGet(id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, b)
	return b.Clone(), nil
}

// Invalidate evicts ids from the cache (called after observing a remote
// log entry's affected block ids).
func (c *CacheSource) Invalidate(ids ...block.ID) {
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

// Put primes the cache directly with a committed value (used by sync() to
// warm the cache with the transforms it just committed, avoiding an
// immediate round trip back to the transactor).
func (c *CacheSource) Put(id block.ID, b *block.Block) {
	c.cache.Add(id, b)
}

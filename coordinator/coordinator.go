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

// Package coordinator drives one multi-collection transaction session end to
// end: begin stamps it, execute runs statements through an Engine against
// whatever collections they touch, and commit computes the canonical
// operations hash, pends it across every touched collection's cohort, then
// promotes the pends to commits. A session that cannot pend or commit
// everywhere rolls back cleanly.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/erigontech/erigon-lib/log/v3"

	"github.com/gotchoices/optimystic/block"
	"github.com/gotchoices/optimystic/cohort"
	"github.com/gotchoices/optimystic/collection"
	"github.com/gotchoices/optimystic/config"
	"github.com/gotchoices/optimystic/engine"
	"github.com/gotchoices/optimystic/errs"
	"github.com/gotchoices/optimystic/metrics"
	"github.com/gotchoices/optimystic/model"
	"github.com/gotchoices/optimystic/peerdir"
	"github.com/gotchoices/optimystic/responsibility"
	"github.com/gotchoices/optimystic/ring"
	"github.com/gotchoices/optimystic/transactor"
	"github.com/gotchoices/optimystic/validator"
)

// CollectionResolver opens or creates the Collection a coordinator-side
// Session needs, by id. Implementations typically memoize on top of a
// shared *transactor.Transactor.
type CollectionResolver interface {
	Collection(id block.CollectionID) (*collection.Collection, error)
}

// RemoteReplica dispatches pend/commit/cancel calls to a non-self cohort
// member. A Coordinator with no RemoteReplica configured only ever
// addresses itself, matching a single-node deployment.
type RemoteReplica interface {
	Pend(ctx context.Context, peer ring.PeerID, req transactor.PendRequest) error
	Commit(ctx context.Context, peer ring.PeerID, req transactor.CommitRequest) (transactor.CommitResult, error)
	Cancel(ctx context.Context, peer ring.PeerID, actionID model.ActionID)
}

// Coordinator is the process-wide entry point for beginning transaction
// sessions. One Coordinator serves every collection hosted locally.
type Coordinator struct {
	self      ring.PeerID
	resolver  CollectionResolver
	engines   *engine.Registry
	directory *peerdir.Directory
	cfg       *config.Config
	remote    RemoteReplica
	validate  *validator.Validator
	signer    *Signer
	metrics   *metrics.Metrics
}

// Option configures a Coordinator at construction.
type Option func(*Coordinator)

// WithRemote wires a RemoteReplica for cohort members other than self.
// Without it, every cohort collapses to self and the coordinator behaves
// as a single-node transactor.
func WithRemote(r RemoteReplica) Option {
	return func(c *Coordinator) { c.remote = r }
}

// WithLocalValidation makes the coordinator re-validate its own pends
// through v before accepting them locally, the same check a remote peer's
// repo server applies to an incoming pend.
func WithLocalValidation(v *validator.Validator) Option {
	return func(c *Coordinator) { c.validate = v }
}

// WithSigner attaches a JWT signer so outgoing pends to remote cohort
// members carry a signed operations hash.
func WithSigner(s *Signer) Option {
	return func(c *Coordinator) { c.signer = s }
}

// WithMetrics wires Prometheus instrumentation. Without it, the coordinator
// still functions; ObserveCommit/ObserveCohortSize/etc. are no-ops on a nil
// *metrics.Metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New constructs a Coordinator. directory may be empty (or nil-equivalent,
// i.e. New(peerdir.New())) for a single-node deployment: every cohort then
// resolves to just self.
func New(self ring.PeerID, resolver CollectionResolver, engines *engine.Registry, directory *peerdir.Directory, cfg *config.Config, opts ...Option) *Coordinator {
	c := &Coordinator{self: self, resolver: resolver, engines: engines, directory: directory, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Begin starts a transaction session stamped for engineID. It resolves the
// engine up front so a caller learns about an unknown engine id
// immediately rather than after executing statements against it.
func (co *Coordinator) Begin(engineID string) (*Session, error) {
	eng, err := co.engines.Resolve(engineID)
	if err != nil {
		return nil, err
	}
	stamp := model.NewTransactionStamp(string(co.self), eng.SchemaHash(), engineID, time.Now())
	return &Session{
		coord:   co,
		engine:  eng,
		stamp:   stamp,
		touched: make(map[block.CollectionID]*collection.Collection),
	}, nil
}

// Session is one in-progress transaction: a sequence of statements executed
// against whatever collections the engine touches, finished by Commit or
// Rollback.
type Session struct {
	coord      *Coordinator
	engine     engine.Engine
	stamp      model.TransactionStamp
	statements []string
	reads      []model.Read
	touched    map[block.CollectionID]*collection.Collection
}

// Collection implements engine.Session: resolve (and remember) the
// Collection id's engine statements act against.
func (s *Session) Collection(id block.CollectionID) (*collection.Collection, error) {
	if c, ok := s.touched[id]; ok {
		return c, nil
	}
	c, err := s.coord.resolver.Collection(id)
	if err != nil {
		return nil, err
	}
	s.touched[id] = c
	return c, nil
}

// RecordRead implements engine.Session: statements declare the revisions
// they depended on, stamped into the finished Transaction's read set.
func (s *Session) RecordRead(r model.Read) {
	s.reads = append(s.reads, r)
}

// Execute asks the session's engine to translate statement into actions
// applied against whatever collections it touches.
func (s *Session) Execute(statement string) error {
	if err := s.engine.Execute(s, statement); err != nil {
		return fmt.Errorf("execute statement: %w", err)
	}
	s.statements = append(s.statements, statement)
	return nil
}

// Rollback discards every collection's locally accumulated actions and
// transforms without touching the log or block store. Safe to call
// instead of Commit at any point, and is what Commit calls internally on
// any failure.
func (s *Session) Rollback() {
	for _, c := range s.touched {
		c.BeginCoordinated()
	}
}

// collectionState is a touched collection's pre-commit snapshot: the
// pending actions and tracked transforms a coordinator owns exclusively
// between BeginCoordinated and the matching End call.
type collectionState struct {
	id         block.CollectionID
	coll       *collection.Collection
	actions    []model.Action
	transforms block.Transforms
	rev        uint64
	cohort     []ring.PeerID
}

// Outcome is returned by a successful Commit.
type Outcome struct {
	Transaction    model.Transaction
	OperationsHash string
	CoordinatorID  *string
}

// Commit finalizes the session's Transaction, computes its canonical
// operations hash, pends it across every touched collection's cohort, then
// promotes every pend to a commit. Any failure in either phase rolls the
// whole session back: nothing is left pending or partially committed on
// the collections this node resolved.
func (s *Session) Commit(ctx context.Context) (Outcome, error) {
	if len(s.touched) == 0 {
		return Outcome{}, fmt.Errorf("commit: no collection touched by this session")
	}

	tx := model.NewTransaction(s.stamp, s.statements, s.reads)

	states := make([]*collectionState, 0, len(s.touched))
	byCollection := make(map[block.CollectionID]block.Transforms, len(s.touched))
	for id, c := range s.touched {
		actions, transforms := c.BeginCoordinated()
		states = append(states, &collectionState{id: id, coll: c, actions: actions, transforms: transforms, rev: c.NextRev()})
		byCollection[id] = transforms
	}
	for _, st := range states {
		st.cohort = s.coord.cohortFor(st.transforms)
	}

	ops := model.OperationsFromTransforms(byCollection)
	operationsHash, err := model.HashOperations(ops)
	if err != nil {
		s.abort(states)
		return Outcome{}, fmt.Errorf("hash operations: %w", err)
	}

	actionID := model.NewActionID()

	if err := s.coord.pendAll(ctx, actionID, tx, operationsHash, states); err != nil {
		log.Debug("coordinator: pend failed, rolling back", "actionId", actionID, "collections", len(states), "err", err)
		s.coord.cancelAll(ctx, actionID, states)
		s.abort(states)
		s.coord.metrics.ObserveCommit("pend_failed")
		return Outcome{}, err
	}

	if err := s.coord.commitAll(ctx, actionID, states); err != nil {
		var partial *errs.PartialCommit
		if errors.As(err, &partial) {
			log.Warn("coordinator: commit split across cohort, some replicas applied and some didn't",
				"actionId", actionID, "committed", partial.Committed, "notCommitted", partial.NotCommitted)
			s.coord.metrics.ObserveCommit("partial_commit")
		} else {
			log.Warn("coordinator: commit failed after pend succeeded", "actionId", actionID, "collections", len(states), "err", err)
			s.coord.metrics.ObserveCommit("commit_failed")
		}
		s.abort(states)
		return Outcome{}, err
	}

	for _, st := range states {
		st.coll.EndCoordinatedSuccess(actionID, st.rev, st.transforms)
	}

	coordinatorID := string(s.coord.self)
	log.Debug("coordinator: commit succeeded", "actionId", actionID, "collections", len(states), "operationsHash", operationsHash)
	s.coord.metrics.ObserveCommit("committed")
	return Outcome{Transaction: tx, OperationsHash: operationsHash, CoordinatorID: &coordinatorID}, nil
}

func (s *Session) abort(states []*collectionState) {
	for _, st := range states {
		st.coll.EndCoordinatedFailure(st.actions, st.transforms)
	}
}

// cohortFor returns the deduplicated union of cohorts responsible for every
// block id touched by transforms, each resolved independently since
// distinct blocks can be served by distinct cohorts.
func (co *Coordinator) cohortFor(transforms block.Transforms) []ring.PeerID {
	candidates := co.candidatePeers()
	seen := make(map[ring.PeerID]bool, len(candidates))
	var out []ring.PeerID
	for id := range block.BlockIdsFor(transforms) {
		key := ring.KeyCoord([]byte(id))
		res := responsibility.Resolve(key, co.self, candidates, co.cfg.ResponsibilityK)
		assembled := cohort.Assemble(key, append([]ring.PeerID{co.self}, candidates...), res.EffectiveK)
		co.metrics.ObserveCohortSize(len(assembled.Cohort))
		for _, p := range assembled.Cohort {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		out = append(out, co.self)
	}
	return out
}

func (co *Coordinator) candidatePeers() []ring.PeerID {
	if co.directory == nil {
		return nil
	}
	entries := co.directory.List()
	out := make([]ring.PeerID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.PeerID)
	}
	return out
}

func (co *Coordinator) pendAll(ctx context.Context, actionID model.ActionID, tx model.Transaction, operationsHash string, states []*collectionState) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, st := range states {
		st := st
		blocks := transactor.ActionBlocksFromTransforms(st.transforms)
		req := transactor.PendRequest{
			ActionID:       actionID,
			CollectionID:   st.id,
			Blocks:         blocks,
			Policy:         transactor.PolicyFail,
			Transaction:    &tx,
			OperationsHash: operationsHash,
		}
		for _, peer := range st.cohort {
			peer := peer
			g.Go(func() error {
				return co.pendOne(gctx, peer, req)
			})
		}
	}
	return g.Wait()
}

func (co *Coordinator) pendOne(ctx context.Context, peer ring.PeerID, req transactor.PendRequest) error {
	if peer == co.self {
		tr := co.resolveTransactor(req.CollectionID)
		var hook transactor.PendValidationHook
		if co.validate != nil {
			hook = func(tx model.Transaction, operationsHash string) error {
				res := co.validate.Validate(tr, tx, operationsHash)
				if !res.Valid {
					return errs.NewValidationError(res.Reason, "local pend", res.ComputedHash)
				}
				return nil
			}
		}
		return tr.Pend(req, hook)
	}
	if co.remote == nil {
		return fmt.Errorf("pend to remote peer %q: %w", peer, errs.ErrTimeout)
	}
	signed := req
	if co.signer != nil {
		token, err := co.signer.Sign(req.OperationsHash)
		if err != nil {
			return fmt.Errorf("sign operations hash: %w", err)
		}
		signed.OperationsHash = token
	}
	return co.remote.Pend(ctx, peer, signed)
}

// commitAll dispatches commit to every (collection, cohort peer) pair and
// reports the aggregate outcome. Unlike pendAll, it never cancels in-flight
// calls on the first failure: a commit already applied on one replica is
// irreversible, so every peer must be given the chance to apply its own
// copy before the coordinator decides whether the cohort ended up fully
// committed, fully failed, or split (errs.PartialCommit).
func (co *Coordinator) commitAll(ctx context.Context, actionID model.ActionID, states []*collectionState) error {
	type outcome struct {
		peer ring.PeerID
		err  error
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var outcomes []outcome

	for _, st := range states {
		st := st
		blocks := transactor.ActionBlocksFromTransforms(st.transforms)
		req := transactor.CommitRequest{
			ActionID:     actionID,
			CollectionID: st.id,
			Blocks:       blocks,
			Actions:      st.actions,
			Rev:          st.rev,
		}
		for _, peer := range st.cohort {
			peer := peer
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := co.commitOne(ctx, peer, req)
				mu.Lock()
				outcomes = append(outcomes, outcome{peer: peer, err: err})
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	var committed, notCommitted []string
	var firstErr error
	for _, o := range outcomes {
		if o.err == nil {
			committed = append(committed, string(o.peer))
			continue
		}
		notCommitted = append(notCommitted, string(o.peer))
		if firstErr == nil {
			firstErr = o.err
		}
	}

	switch {
	case len(notCommitted) == 0:
		return nil
	case len(committed) == 0:
		return firstErr
	default:
		return &errs.PartialCommit{Committed: committed, NotCommitted: notCommitted}
	}
}

func (co *Coordinator) commitOne(ctx context.Context, peer ring.PeerID, req transactor.CommitRequest) (transactor.CommitResult, error) {
	if peer == co.self {
		return co.resolveTransactor(req.CollectionID).Commit(req)
	}
	if co.remote == nil {
		return transactor.CommitResult{}, fmt.Errorf("commit to remote peer %q: %w", peer, errs.ErrTimeout)
	}
	return co.remote.Commit(ctx, peer, req)
}

func (co *Coordinator) cancelAll(ctx context.Context, actionID model.ActionID, states []*collectionState) {
	for _, st := range states {
		for _, peer := range st.cohort {
			if peer == co.self {
				co.resolveTransactor(st.id).Cancel(actionID)
				continue
			}
			if co.remote != nil {
				co.remote.Cancel(ctx, peer, actionID)
			}
		}
	}
}

func (co *Coordinator) resolveTransactor(id block.CollectionID) *transactor.Transactor {
	c, err := co.resolver.Collection(id)
	if err != nil {
		// Collection was already resolved once by this session to reach
		// pend/commit; a resolver error here would mean state vanished
		// mid-session, which the cooperative single-threaded model rules out.
		panic(fmt.Sprintf("coordinator: collection %q vanished mid-commit: %v", id, err))
	}
	return c.Transactor()
}

// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package workerpool implements the bounded multi-consumer worker pool
// (C9): one producer publishes per-row work, fanned out by kind count,
// to one long-lived consumer goroutine per kind. Envelopes are pooled so
// steady-state operation never allocates.
package workerpool

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/crosscatproj/crosscat/schema"
	"github.com/dchest/siphash"
)

// Action is the kind of per-row work an envelope carries.
type Action int

const (
	Add Action = iota
	Remove
)

// Task is the per-row work item fanned out to every kind: one action
// plus the row's full value and its per-kind partial projections.
type Task struct {
	Action   Action
	RowID    uint64
	Full     schema.Value
	Partials []schema.Value
}

// envelope is one slot of the pool's fixed-size ring. remaining counts
// down from the kind count as each consumer finishes its slice; the
// last consumer to finish recycles the envelope.
type envelope struct {
	task      Task
	remaining int32
}

// Rand is the minimal randomness capability a consumer needs; satisfied
// by *math/rand.Rand.
type Rand interface {
	Float64() float64
	NormFloat64() float64
	Int63() int64
}

// Process is invoked by kind k's consumer goroutine for every task
// published to the pool. It must touch only kind k's mixture and the
// assignment-store slice serialized through that kind: per-kind
// mixtures are owned exclusively by their consumer.
type Process func(kindID int, task Task, rng Rand)

// Pool is the C9 worker pool.
type Pool struct {
	queues      []chan *envelope
	free        chan *envelope
	outstanding sync.WaitGroup
	workers     sync.WaitGroup
	seed        uint64
}

// New starts a pool with one consumer per kind (kindCount consumers,
// each running process), capacity pooled envelopes, and a base RNG seed
// from which each consumer's independent stream is derived via SipHash,
// so each consumer owns its own RNG state, seeded at spawn.
func New(kindCount, capacity int, seed uint64, process Process) *Pool {
	p := &Pool{
		queues: make([]chan *envelope, kindCount),
		free:   make(chan *envelope, capacity),
		seed:   seed,
	}
	for i := 0; i < capacity; i++ {
		p.free <- &envelope{}
	}
	p.spawn(process)
	return p
}

func (p *Pool) spawn(process Process) {
	p.workers.Add(len(p.queues))
	for k := range p.queues {
		p.queues[k] = make(chan *envelope, cap(p.free))
		rng := newConsumerRand(p.seed, k)
		go p.consume(k, p.queues[k], rng, process)
	}
}

func (p *Pool) consume(kindID int, queue chan *envelope, rng Rand, process Process) {
	defer p.workers.Done()
	for env := range queue {
		process(kindID, env.task, rng)
		if atomic.AddInt32(&env.remaining, -1) == 0 {
			env.task = Task{}
			p.free <- env
			p.outstanding.Done()
		}
	}
}

// newConsumerRand derives a deterministic, independent RNG stream per
// kind from the pool's base seed using SipHash-2-4, so a fixed invoking
// seed reproduces the same per-kind streams regardless of goroutine
// scheduling order. engine's predictRand uses the same derivation.
func newConsumerRand(seed uint64, kindID int) Rand {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(kindID))
	lo, hi := siphash.Hash128(seed, ^seed, buf[:])
	return newSeededRand(lo ^ hi)
}

// Alloc blocks until an envelope is free.
func (p *Pool) Alloc() *envelope {
	return <-p.free
}

// Send fills env with task and publishes it to every kind's queue,
// fanned out with a consumers-remaining count equal to the kind count.
// It may block if a kind's queue is full.
func (p *Pool) Send(env *envelope, task Task) {
	env.task = task
	atomic.StoreInt32(&env.remaining, int32(len(p.queues)))
	p.outstanding.Add(1)
	for _, q := range p.queues {
		q <- env
	}
}

// Wait blocks until every outstanding envelope has been fully consumed;
// callers invoke it before process_batch and before any pool resize or
// kind-set mutation.
func (p *Pool) Wait() {
	p.outstanding.Wait()
}

// Resize changes the number of kind consumers. It must be called only
// while Wait() holds (no in-flight work). It hangs up every current
// consumer and spawns kindCount fresh ones, each seeded anew from the
// base seed and its kind index, so surviving kinds' RNG streams restart.
func (p *Pool) Resize(kindCount int, process Process) {
	p.Shutdown()
	p.workers = sync.WaitGroup{}
	p.queues = make([]chan *envelope, kindCount)
	p.spawn(process)
}

// Shutdown hangs up every consumer queue and joins.
func (p *Pool) Shutdown() {
	for _, q := range p.queues {
		close(q)
	}
	p.workers.Wait()
}

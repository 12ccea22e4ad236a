// Copyright 2024 The PVM Authors
// This file is part of the PVM core.
//
// The PVM core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The PVM core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the PVM core. If not, see <http://www.gnu.org/licenses/>.

// Package hostenv is a reference implementation of pvm.HostEnvironment,
// suitable for standalone interpreter runs (cmd/pvmrun) and for tests. It is
// not the chain
// driver itself — it has no consensus logic — only enough bookkeeping
// (service table, preimage store, solicitation set) to make every host
// call in pvm.HostEnvironment observably correct in isolation.
package hostenv

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/inconshreveable/log15"

	"github.com/probechain/pvm/pvm"
)

// storageCacheSize bounds the number of distinct (service,key) entries held
// in the bounded LRU backing service storage; eviction is acceptable here
// since Env is a reference/test harness, not the authoritative chain state.
const storageCacheSize = 8192

// preimageCacheBytes sizes the fastcache instance backing preimage lookup;
// fastcache takes a byte budget rather than an entry count.
const preimageCacheBytes = 32 * 1024 * 1024

var log = log15.New("module", "hostenv")

// account is the bookkeeping record Env keeps per service id.
type account struct {
	codeHash []byte
	codeLen  uint64
	balance  uint64
	gasLimit uint64
	gasAlloc uint64
}

// solicitState is the lifecycle of one solicited preimage hash, mirroring
// query's three-valued status (§4.E: unknown, solicited, available).
type solicitState uint8

const (
	solicitUnknown solicitState = iota
	solicitPending
	solicitAvailable
)

type solicitKey struct {
	service uint64
	hash    string
}

// Env is a reference HostEnvironment: an in-memory service table plus a
// bounded storage cache and preimage cache. Solicit, Provide, Transfer,
// NewService, Upgrade and Eject log with key-value pairs; Write, Forget and
// Register do not log.
type Env struct {
	mu sync.Mutex

	services   map[uint64]*account
	nextID     uint64
	gasLimit   int64
	storage    *lru.Cache // key: serviceKey{service,key} -> []byte
	preimages  *fastcache.Cache
	solicited  map[solicitKey]solicitState
	entropy    []byte
	config     []byte
	recentHash []byte
	workPkg    []byte
}

type serviceKey struct {
	service uint64
	key     string
}

// New builds a reference HostEnvironment seeded with the given gas budget
// and the fixed-selector environment data Fetch serves (§6): config bytes,
// entropy, the recent-block-hash buffer, and the work-package bytes. Any of
// these may be nil if the caller has no use for that selector.
func New(gasLimit int64, config, entropy, recentHashes, workPackage []byte) *Env {
	storage, err := lru.New(storageCacheSize)
	if err != nil {
		// lru.New only errors on size <= 0, which storageCacheSize never is.
		panic(err)
	}
	return &Env{
		services:   make(map[uint64]*account),
		nextID:     1,
		gasLimit:   gasLimit,
		storage:    storage,
		preimages:  fastcache.New(preimageCacheBytes),
		solicited:  make(map[solicitKey]solicitState),
		entropy:    entropy,
		config:     config,
		recentHash: recentHashes,
		workPkg:    workPackage,
	}
}

// Register seeds Env with an existing service at a caller-chosen id, for
// tests that need a specific service present before the guest runs rather
// than one created via the `new` host call.
func (e *Env) Register(service uint64, codeHash []byte, codeLen, balance uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.services[service] = &account{codeHash: append([]byte(nil), codeHash...), codeLen: codeLen, balance: balance}
	if service >= e.nextID {
		e.nextID = service + 1
	}
}

func (e *Env) GasLimit() int64 { return e.gasLimit }

func (e *Env) Fetch(selector uint32) ([]byte, bool) {
	switch selector {
	case 0:
		return e.config, e.config != nil
	case 1:
		return e.entropy, e.entropy != nil
	case 2:
		return e.recentHash, e.recentHash != nil
	case 7:
		return e.workPkg, e.workPkg != nil
	default:
		return nil, false
	}
}

func (e *Env) Read(service uint64, key []byte) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.storage.Get(serviceKey{service, string(key)})
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (e *Env) Write(service uint64, key, value []byte) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sk := serviceKey{service, string(key)}
	prior, existed := e.storage.Get(sk)
	if value == nil {
		e.storage.Remove(sk)
	} else {
		e.storage.Add(sk, append([]byte(nil), value...))
	}
	if !existed {
		return 0, false
	}
	return uint64(len(prior.([]byte))), true
}

// encodeServiceRecord lays out a service account as
// balance(32) ‖ gasLimit(8) ‖ gasAllowance(8) ‖ codeLen(8) ‖ codeHash, the
// "info" host call's result datum. The balance field is a uint256 rather
// than a uint64 so Env's record shape matches the full-precision balances a
// real chain driver would carry (§1 treats amounts as chain-policy values,
// not something this core bounds to 64 bits).
func encodeServiceRecord(a *account) []byte {
	out := make([]byte, 0, 32+8+8+8+len(a.codeHash))
	bal := uint256.NewInt(a.balance).Bytes32()
	out = append(out, bal[:]...)
	out = appendU64(out, a.gasLimit)
	out = appendU64(out, a.gasAlloc)
	out = appendU64(out, a.codeLen)
	out = append(out, a.codeHash...)
	return out
}

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte
	for i := range b {
		b[i] = byte(v >> uint(8*i))
	}
	return append(dst, b[:]...)
}

func (e *Env) Info(service uint64) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.services[service]
	if !ok {
		return nil, false
	}
	return encodeServiceRecord(a), true
}

func (e *Env) Lookup(service uint64, hash []byte) ([]byte, bool) {
	v, ok := e.preimages.HasGet(nil, preimageKey(service, hash))
	if !ok {
		return nil, false
	}
	return v, true
}

// HistoricalLookup ignores timeslot in this reference implementation: Env
// keeps no per-block preimage history, only the current set. A driver that
// needs true historical replay would back this with per-block snapshots.
func (e *Env) HistoricalLookup(service uint64, timeslot uint32, hash []byte) ([]byte, bool) {
	return e.Lookup(service, hash)
}

func (e *Env) Solicit(service uint64, hash []byte, length uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := solicitKey{service, string(hash)}
	if e.solicited[k] != solicitUnknown {
		return false
	}
	e.solicited[k] = solicitPending
	log.Info("preimage solicited", "service", service, "length", length)
	return true
}

func (e *Env) Forget(service uint64, hash []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := solicitKey{service, string(hash)}
	if e.solicited[k] == solicitUnknown {
		return false
	}
	delete(e.solicited, k)
	e.preimages.Del(preimageKey(service, hash))
	return true
}

func (e *Env) Provide(service uint64, hash, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := solicitKey{service, string(hash)}
	if e.solicited[k] != solicitPending {
		return fmt.Errorf("hostenv: service %d: %w", service, pvm.ErrPreimageNotSolicited)
	}
	e.solicited[k] = solicitAvailable
	e.preimages.Set(preimageKey(service, hash), data)
	log.Info("preimage provided", "service", service, "bytes", len(data))
	return nil
}

func (e *Env) Query(service uint64, hash []byte, length uint32) (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := solicitKey{service, string(hash)}
	st, ok := e.solicited[k]
	if !ok {
		return 0, false
	}
	return uint64(st), true
}

func (e *Env) Transfer(from, to uint64, amount uint64, memo []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	src, ok := e.services[from]
	if !ok {
		return pvm.ErrUnknownService
	}
	dst, ok := e.services[to]
	if !ok {
		return pvm.ErrUnknownService
	}
	if src.balance < amount {
		return pvm.ErrInsufficientFunds
	}
	src.balance -= amount
	dst.balance += amount
	log.Info("service transfer", "from", from, "to", to, "amount", amount, "memo", len(memo))
	return nil
}

func (e *Env) NewService(codeHash []byte, codeLen uint64, balance uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.services) >= storageCacheSize {
		return 0, pvm.ErrStorageFull
	}
	id := e.nextID
	e.nextID++
	e.services[id] = &account{
		codeHash: append([]byte(nil), codeHash...),
		codeLen:  codeLen,
		balance:  balance,
	}
	log.Info("service created", "id", id, "balance", balance)
	return id, nil
}

func (e *Env) Upgrade(service uint64, codeHash []byte, gasLimit, gasAllowance uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.services[service]
	if !ok {
		return pvm.ErrUnknownService
	}
	a.codeHash = append([]byte(nil), codeHash...)
	a.gasLimit = gasLimit
	a.gasAlloc = gasAllowance
	log.Info("service upgraded", "service", service)
	return nil
}

func (e *Env) Eject(service, beneficiary uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.services[service]
	if !ok {
		return pvm.ErrUnknownService
	}
	if b, ok := e.services[beneficiary]; ok {
		b.balance += a.balance
	}
	delete(e.services, service)
	log.Info("service ejected", "service", service, "beneficiary", beneficiary)
	return nil
}

func preimageKey(service uint64, hash []byte) []byte {
	return append([]byte(fmt.Sprintf("%d:", service)), hash...)
}

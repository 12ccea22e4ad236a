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

package pvm

import "errors"

// Host-call result sentinels (§4.E). A successful call that produces a
// value writes it to r7 directly; these are written to r7 instead, as
// near-2^64 values no genuine result will collide with.
const (
	SentinelOK   uint64 = 0
	SentinelNone uint64 = 0xFFFFFFFFFFFFFFFF // NONE: item does not exist
	SentinelWhat uint64 = 0xFFFFFFFFFFFFFFFE // WHAT: name unknown / bad call number
	SentinelOOB  uint64 = 0xFFFFFFFFFFFFFFFD // OOB: memory argument out of bounds
	SentinelWho  uint64 = 0xFFFFFFFFFFFFFFFC // WHO: service index invalid
	SentinelFull uint64 = 0xFFFFFFFFFFFFFFFB // FULL: storage full / insufficient balance
	SentinelCore uint64 = 0xFFFFFFFFFFFFFFFA // CORE: unknown core
	SentinelCash uint64 = 0xFFFFFFFFFFFFFFF9 // CASH: insufficient funds
	SentinelLow  uint64 = 0xFFFFFFFFFFFFFFF8 // LOW: gas limit too low
	SentinelHuh  uint64 = 0xFFFFFFFFFFFFFFF7 // HUH: invalid parameter
)

// hostCallBaseGas is the flat per-call charge (§4.E); write and export add
// their payload length on top, every other call costs only this.
const hostCallBaseGas = 10

// Sentinel errors a HostEnvironment returns from its mutating methods; the
// dispatch layer maps each to the matching §4.E sentinel rather than letting
// callers construct ad hoc ones.
var (
	ErrUnknownService       = errors.New("pvm: unknown service")
	ErrInsufficientFunds    = errors.New("pvm: insufficient funds")
	ErrStorageFull          = errors.New("pvm: storage or account table full")
	ErrPreimageNotSolicited = errors.New("pvm: preimage was not solicited")
)

// HostEnvironment is the service the interpreter calls out to for anything
// that reaches outside the sandboxed register/memory state: service
// storage, preimage lookup, balances, and the handful of context-provided
// data items (entropy, recent headers, work-package fields, configuration
// constants). One HostEnvironment instance is bound to a State for the
// lifetime of one invocation.
type HostEnvironment interface {
	// Fetch returns the environment datum selected by selector (§6's
	// selector table: 0=config, 1=entropy, 2=recent block hashes,
	// 7=work-package bytes), or ok=false if the selector is undefined.
	Fetch(selector uint32) (data []byte, ok bool)
	// Read returns the value stored under key for service, if any.
	Read(service uint64, key []byte) (value []byte, ok bool)
	// Write stores value under key for service; value == nil deletes the
	// entry. It returns the prior value's length, or ok=false if it did
	// not exist.
	Write(service uint64, key, value []byte) (priorLen uint64, ok bool)
	// Info returns service's encoded account record (balance, code hash,
	// code length, and any other fields the environment tracks), or
	// ok=false if no such service exists.
	Info(service uint64) (record []byte, ok bool)
	// Lookup resolves a preimage hash to its bytes, as solicited/provided by
	// an earlier Solicit/Provide.
	Lookup(service uint64, hash []byte) (preimage []byte, ok bool)
	// HistoricalLookup resolves a preimage as it stood as of timeslot, for
	// Refine's "replay against recent history" use case.
	HistoricalLookup(service uint64, timeslot uint32, hash []byte) (preimage []byte, ok bool)
	// Solicit/Forget adjust the preimage-availability set.
	Solicit(service uint64, hash []byte, length uint32) bool
	Forget(service uint64, hash []byte) bool
	// Provide supplies preimage bytes for a hash the service has already
	// solicited. It returns ErrPreimageNotSolicited if no matching
	// solicitation exists. The hash is passed explicitly rather than
	// derived from data: hashing preimages is the surrounding chain
	// driver's cryptographic responsibility (§1's "out of scope" crypto
	// primitives), not this core's.
	Provide(service uint64, hash, data []byte) error
	// Query reports the availability status of a solicited preimage: 0 =
	// unknown/not solicited, 1 = solicited but not yet provided, 2 =
	// available.
	Query(service uint64, hash []byte, length uint32) (status uint64, ok bool)
	// Transfer moves amount from the invoking service to to, with an
	// arbitrary memo attached (delivered to the destination's OnTransfer
	// entry point by the surrounding driver, outside this core).
	Transfer(from, to uint64, amount uint64, memo []byte) error
	// NewService creates a service account with the given code hash/length
	// and initial balance, returning its freshly assigned id.
	NewService(codeHash []byte, codeLen uint64, balance uint64) (serviceID uint64, err error)
	// Upgrade replaces service's code hash and adjusts its gas allowances.
	Upgrade(service uint64, codeHash []byte, gasLimit, gasAllowance uint64) error
	// Eject destroys service, crediting its balance to beneficiary.
	Eject(service, beneficiary uint64) error
	// GasLimit is the gas budget the surrounding block/work-item granted.
	GasLimit() int64
}

// dispatchHostCall executes host call id, gated by s's invocation Context.
// Results land in r7; a Panic is set directly on s.Status where the call's
// memory arguments are out of bounds (§4.E: host-call memory violations
// always escalate to Panic, unlike ordinary guest memory access).
func dispatchHostCall(s *State, id uint32) {
	s.HostCallID = id
	if !chargeGas(s, hostCallBaseGas) {
		return
	}

	switch id {
	// ---- General: valid in every context --------------------------------
	case hcGas:
		s.Registers[7] = uint64(s.Gas)
	case hcFetch:
		hcDoFetch(s)
	case hcLookup:
		hcDoLookup(s)
	case hcRead:
		hcDoRead(s)
	case hcWrite:
		hcDoWrite(s)
	case hcInfo:
		hcDoInfo(s)

	// ---- Refine / IsAuthorized --------------------------------------------
	case hcHistoricalLookup:
		hcDoHistoricalLookup(s)
	case hcExport:
		hcDoExport(s)
	case hcMachine:
		hcDoMachine(s)
	case hcPeek:
		hcDoPeek(s)
	case hcPoke:
		hcDoPoke(s)
	case hcPages:
		hcDoPages(s)
	case hcInvoke:
		hcDoInvoke(s)
	case hcExpunge:
		hcDoExpunge(s)

	// ---- Accumulate-only --------------------------------------------------
	case hcBless:
		hcDoBless(s)
	case hcAssign:
		hcDoAssign(s)
	case hcDesignate:
		hcDoDesignate(s)
	case hcCheckpoint:
		hcDoCheckpoint(s)
	case hcNew:
		hcDoNew(s)
	case hcUpgrade:
		hcDoUpgrade(s)
	case hcTransfer:
		hcDoTransfer(s)
	case hcEject:
		hcDoEject(s)
	case hcQuery:
		hcDoQuery(s)
	case hcSolicit:
		hcDoSolicit(s)
	case hcForget:
		hcDoForget(s)
	case hcYield:
		hcDoYield(s)
	case hcProvide:
		hcDoProvide(s)

	default:
		s.Registers[7] = SentinelWhat
	}
}

// Host-call numbers, assigned in the order §4.E's three groups list them
// (General, Refine/IsAuthorized, Accumulate-only): 0..26, matching the base
// spec's "identified by a small integer (0..26)". Unlike Opcode, these are
// not encoded in the program blob (they come from the ecalli immediate,
// which the guest compiler chooses against this fixed table), so there is
// no companion decode metadata to maintain.
const (
	hcGas = iota
	hcFetch
	hcLookup
	hcRead
	hcWrite
	hcInfo

	hcHistoricalLookup
	hcExport
	hcMachine
	hcPeek
	hcPoke
	hcPages
	hcInvoke
	hcExpunge

	hcBless
	hcAssign
	hcDesignate
	hcCheckpoint
	hcNew
	hcUpgrade
	hcTransfer
	hcEject
	hcQuery
	hcSolicit
	hcForget
	hcYield
	hcProvide
)

// inContext reports whether s's invocation Context is one of allowed; on
// mismatch it sets SentinelWhat and returns false, the common "out-of-
// context call" path every non-General host call shares (§4.E).
func inContext(s *State, allowed ...Context) bool {
	for _, c := range allowed {
		if s.Context == c {
			return true
		}
	}
	s.Registers[7] = SentinelWhat
	return false
}

// readMemArg reads n bytes at addr for a host call, escalating any memory
// error to Panic per §4.E.
func readMemArg(s *State, addr uint32, n int) ([]byte, bool) {
	b, err := s.Memory.ReadBytes(addr, n)
	if err != nil {
		s.Status = Panic
		return nil, false
	}
	return b, true
}

func writeMemArg(s *State, addr uint32, data []byte) bool {
	if err := s.Memory.WriteBytes(addr, data); err != nil {
		s.Status = Panic
		return false
	}
	return true
}

// writeSlice copies full[src:src+length), clipped to full's bounds, to
// outAddr and reports len(full) (the total datum size, not the slice's) in
// r7 — the shape fetch/historical_lookup/info share, each of which lets the
// guest page through a datum larger than one copy via an explicit src
// offset.
func writeSlice(s *State, outAddr uint32, src, length int, full []byte) {
	if src > len(full) {
		src = len(full)
	}
	end := src + length
	if end > len(full) {
		end = len(full)
	}
	if !writeMemArg(s, outAddr, full[src:end]) {
		return
	}
	s.Registers[7] = uint64(len(full))
}

func hcDoFetch(s *State) {
	if s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	selector := uint32(s.Registers[7])
	outAddr := uint32(s.Registers[8])
	src, length := int(s.Registers[9]), int(s.Registers[10])
	data, ok := s.Host.Fetch(selector)
	if !ok {
		s.Registers[7] = SentinelNone
		return
	}
	writeSlice(s, outAddr, src, length, data)
}

// hcDoLookup follows §4.E's "lookup service_id, hash_addr, out, src, len":
// the hash is always 32 bytes (no separate length register), and the result
// is paged through out/src/len the same way fetch/info are.
func hcDoLookup(s *State) {
	if s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	service := s.Registers[7]
	hashAddr := uint32(s.Registers[8])
	outAddr := uint32(s.Registers[9])
	src, length := int(s.Registers[10]), int(s.Registers[11])
	hash, ok := readMemArg(s, hashAddr, 32)
	if !ok {
		return
	}
	pre, found := s.Host.Lookup(service, hash)
	if !found {
		s.Registers[7] = SentinelNone
		return
	}
	writeSlice(s, outAddr, src, length, pre)
}

func hcDoHistoricalLookup(s *State) {
	if !inContext(s, ContextRefine, ContextIsAuthorized) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	service := s.Registers[7]
	timeslot := uint32(s.Registers[8])
	hashAddr := uint32(s.Registers[9])
	outAddr := uint32(s.Registers[10])
	src, length := int(s.Registers[11]), int(s.Registers[12])
	hash, ok := readMemArg(s, hashAddr, 32)
	if !ok {
		return
	}
	pre, found := s.Host.HistoricalLookup(service, timeslot, hash)
	if !found {
		s.Registers[7] = SentinelNone
		return
	}
	writeSlice(s, outAddr, src, length, pre)
}

// hcDoRead follows §4.E's "read service_id, key_addr, key_len, out, src,
// len": unlike lookup's fixed 32-byte hash, a storage key has its own
// explicit length.
func hcDoRead(s *State) {
	if s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	service := s.Registers[7]
	keyAddr, keyLen := uint32(s.Registers[8]), int(s.Registers[9])
	outAddr := uint32(s.Registers[10])
	src, length := int(s.Registers[11]), int(s.Registers[12])
	key, ok := readMemArg(s, keyAddr, keyLen)
	if !ok {
		return
	}
	val, found := s.Host.Read(service, key)
	if !found {
		s.Registers[7] = SentinelNone
		return
	}
	writeSlice(s, outAddr, src, length, val)
}

// hcDoWrite is valid in every context (§4.E lists it under "General") and
// mutates service storage, unlike solicit/forget/provide, which mutate the
// preimage-availability bookkeeping and only make sense during Accumulate. Unlike
// read/lookup, write's argument list (§4.E: "write key_addr, key_len,
// val_addr, val_len") carries no service_id: it always writes the invoking
// service's own storage, the same s.Self convention transfer/upgrade/eject
// use.
func hcDoWrite(s *State) {
	if s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	keyAddr, keyLen := uint32(s.Registers[7]), int(s.Registers[8])
	valAddr, valLen := uint32(s.Registers[9]), int(s.Registers[10])
	key, ok := readMemArg(s, keyAddr, keyLen)
	if !ok {
		return
	}
	var val []byte
	if valLen > 0 {
		val, ok = readMemArg(s, valAddr, valLen)
		if !ok {
			return
		}
	}
	if !chargeGas(s, int64(len(val))) {
		return
	}
	prior, existed := s.Host.Write(s.Self, key, val)
	if !existed {
		s.Registers[7] = SentinelNone
		return
	}
	s.Registers[7] = prior
}

func hcDoInfo(s *State) {
	if s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	service := s.Registers[7]
	outAddr, src, length := uint32(s.Registers[8]), int(s.Registers[9]), int(s.Registers[10])
	record, ok := s.Host.Info(service)
	if !ok {
		s.Registers[7] = SentinelNone
		return
	}
	writeSlice(s, outAddr, src, length, record)
}

func hcDoSolicit(s *State) {
	if !inContext(s, ContextAccumulate) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	service := s.Registers[7]
	hashAddr := uint32(s.Registers[8])
	length := uint32(s.Registers[9])
	hash, ok := readMemArg(s, hashAddr, 32)
	if !ok {
		return
	}
	if !s.Host.Solicit(service, hash, length) {
		s.Registers[7] = SentinelFull
		return
	}
	s.Registers[7] = SentinelOK
}

func hcDoForget(s *State) {
	if !inContext(s, ContextAccumulate) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	service := s.Registers[7]
	hashAddr := uint32(s.Registers[8])
	hash, ok := readMemArg(s, hashAddr, 32)
	if !ok {
		return
	}
	if !s.Host.Forget(service, hash) {
		s.Registers[7] = SentinelNone
		return
	}
	s.Registers[7] = SentinelOK
}

func hcDoProvide(s *State) {
	if !inContext(s, ContextAccumulate) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	service := s.Registers[7]
	hashAddr := uint32(s.Registers[8])
	addr, n := uint32(s.Registers[9]), int(s.Registers[10])
	hash, ok := readMemArg(s, hashAddr, 32)
	if !ok {
		return
	}
	data, ok := readMemArg(s, addr, n)
	if !ok {
		return
	}
	if err := s.Host.Provide(service, hash, data); err != nil {
		if errors.Is(err, ErrPreimageNotSolicited) {
			s.Registers[7] = SentinelHuh
			return
		}
		s.Registers[7] = SentinelWho
		return
	}
	s.Registers[7] = SentinelOK
}

func hcDoQuery(s *State) {
	if !inContext(s, ContextAccumulate) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	service := s.Registers[7]
	hashAddr := uint32(s.Registers[8])
	length := uint32(s.Registers[9])
	hash, ok := readMemArg(s, hashAddr, 32)
	if !ok {
		return
	}
	status, found := s.Host.Query(service, hash, length)
	if !found {
		s.Registers[7] = SentinelNone
		return
	}
	s.Registers[7] = status
}

func hcDoTransfer(s *State) {
	if !inContext(s, ContextAccumulate) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	to := s.Registers[7]
	amount := s.Registers[8]
	memoAddr, memoLen := uint32(s.Registers[9]), int(s.Registers[10])
	var memo []byte
	if memoLen > 0 {
		var ok bool
		memo, ok = readMemArg(s, memoAddr, memoLen)
		if !ok {
			return
		}
	}
	err := s.Host.Transfer(s.Self, to, amount, memo)
	s.Registers[7] = transferSentinel(err)
}

func transferSentinel(err error) uint64 {
	switch {
	case err == nil:
		return SentinelOK
	case errors.Is(err, ErrUnknownService):
		return SentinelWho
	case errors.Is(err, ErrInsufficientFunds):
		return SentinelCash
	default:
		return SentinelHuh
	}
}

func hcDoNew(s *State) {
	if !inContext(s, ContextAccumulate) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	codeHashAddr := uint32(s.Registers[7])
	codeLen := s.Registers[8]
	balance := s.Registers[9]
	codeHash, ok := readMemArg(s, codeHashAddr, 32)
	if !ok {
		return
	}
	id, err := s.Host.NewService(codeHash, codeLen, balance)
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.Registers[7] = SentinelCash
			return
		}
		s.Registers[7] = SentinelFull
		return
	}
	s.Registers[7] = id
}

func hcDoUpgrade(s *State) {
	if !inContext(s, ContextAccumulate) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	codeHashAddr := uint32(s.Registers[7])
	gasLimit, gasAllowance := s.Registers[8], s.Registers[9]
	codeHash, ok := readMemArg(s, codeHashAddr, 32)
	if !ok {
		return
	}
	if err := s.Host.Upgrade(s.Self, codeHash, gasLimit, gasAllowance); err != nil {
		s.Registers[7] = SentinelWho
		return
	}
	s.Registers[7] = SentinelOK
}

func hcDoEject(s *State) {
	if !inContext(s, ContextAccumulate) || s.Host == nil {
		s.Registers[7] = SentinelWhat
		return
	}
	beneficiary := s.Registers[7]
	if err := s.Host.Eject(s.Self, beneficiary); err != nil {
		if errors.Is(err, ErrUnknownService) {
			s.Registers[7] = SentinelWho
			return
		}
		s.Registers[7] = SentinelHuh
		return
	}
	s.Registers[7] = SentinelOK
}

// hcDoCheckpoint records the current gas counter as a refund boundary for
// this invocation. Unlike the other Accumulate-only calls it mutates only
// the PVM's own State, not the surrounding HostEnvironment: a checkpoint is
// a property of "how much gas has this invocation burned so far", which
// this core owns outright.
func hcDoCheckpoint(s *State) {
	if !inContext(s, ContextAccumulate) {
		s.Registers[7] = SentinelWhat
		return
	}
	prior := s.CheckpointGas
	s.CheckpointGas = s.Gas
	s.Registers[7] = SentinelOK
	s.Registers[8] = uint64(prior)
}

// hcDoBless, hcDoAssign, hcDoDesignate, and hcDoYield mutate chain-wide
// tables (the privileged-service registry, the core-assignment table, the
// validator key set, and the block's accumulation root respectively) that
// live entirely outside this core's HostEnvironment contract. They return
// WHAT rather than silently succeeding: this module has no authoritative
// copy of that state to mutate correctly.
func hcDoBless(s *State)     { s.Registers[7] = SentinelWhat }
func hcDoAssign(s *State)    { s.Registers[7] = SentinelWhat }
func hcDoDesignate(s *State) { s.Registers[7] = SentinelWhat }
func hcDoYield(s *State)     { s.Registers[7] = SentinelWhat }

// hcDoExport appends a data export and is valid in the Refine and
// IsAuthorized contexts; the base call cost
// already charged by dispatchHostCall is topped up with the payload length
// (§4.E: "export charges 10+length"), and the total gas actually spent on
// the call is reported back to the guest at gasOutAddr.
func hcDoExport(s *State) {
	if !inContext(s, ContextRefine, ContextIsAuthorized) {
		s.Registers[7] = SentinelWhat
		return
	}
	addr, n := uint32(s.Registers[7]), int(s.Registers[8])
	gasOutAddr := uint32(s.Registers[9])
	data, ok := readMemArg(s, addr, n)
	if !ok {
		return
	}
	if !chargeGas(s, int64(n)) {
		return
	}
	if gasOutAddr != 0 {
		if err := s.Memory.WriteN(gasOutAddr, 8, uint64(hostCallBaseGas+n)); err != nil {
			s.Status = Panic
			return
		}
	}
	s.Exports = append(s.Exports, append([]byte(nil), data...))
	s.Registers[7] = uint64(len(s.Exports) - 1)
}

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

package hostenv

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/probechain/pvm/pvm"
)

func TestFetchSelectors(t *testing.T) {
	e := New(1000, []byte("config"), []byte("entropy"), []byte("recent"), []byte("work"))

	for selector, want := range map[uint32][]byte{
		0: []byte("config"),
		1: []byte("entropy"),
		2: []byte("recent"),
		7: []byte("work"),
	} {
		got, ok := e.Fetch(selector)
		require.True(t, ok, "selector %d", selector)
		require.Equal(t, want, got)
	}

	_, ok := e.Fetch(3)
	require.False(t, ok, "selector 3 is undefined")
}

func TestReadWriteStorage(t *testing.T) {
	e := New(1000, nil, nil, nil, nil)

	_, existed := e.Write(1, []byte("k"), []byte("v1"))
	require.False(t, existed)

	v, ok := e.Read(1, []byte("k"))
	require.True(t, ok)
	require.Equal(t, []byte("v1"), v)

	priorLen, existed := e.Write(1, []byte("k"), []byte("v2"))
	require.True(t, existed)
	require.Equal(t, uint64(len("v1")), priorLen)

	_, existed = e.Write(1, []byte("k"), nil)
	require.True(t, existed)
	_, ok = e.Read(1, []byte("k"))
	require.False(t, ok)
}

func TestServiceLifecycle(t *testing.T) {
	e := New(1000, nil, nil, nil, nil)

	id, err := e.NewService([]byte("codehash"), 100, 500)
	require.NoError(t, err)

	record, ok := e.Info(id)
	require.True(t, ok)
	require.Len(t, record, 32+8+8+8+len("codehash"))

	require.NoError(t, e.Upgrade(id, []byte("newcodehash"), 10, 20))
	record2, _ := e.Info(id)
	require.NotEqual(t, record, record2)

	other, err := e.NewService([]byte("c2"), 1, 0)
	require.NoError(t, err)
	require.NoError(t, e.Eject(id, other))

	_, ok = e.Info(id)
	require.False(t, ok)
}

func TestTransfer(t *testing.T) {
	e := New(1000, nil, nil, nil, nil)
	a, _ := e.NewService([]byte("a"), 0, 100)
	b, _ := e.NewService([]byte("b"), 0, 0)

	require.NoError(t, e.Transfer(a, b, 40, nil))

	err := e.Transfer(a, b, 1000, nil)
	require.ErrorIs(t, err, pvm.ErrInsufficientFunds)

	err = e.Transfer(a, 9999, 1, nil)
	require.ErrorIs(t, err, pvm.ErrUnknownService)
}

func TestSolicitProvideForgetQuery(t *testing.T) {
	e := New(1000, nil, nil, nil, nil)
	hash := []byte("01234567890123456789012345678901")[:32]

	_, ok := e.Query(1, hash, 4)
	require.False(t, ok, "querying before solicit reports unknown")

	require.True(t, e.Solicit(1, hash, 4))
	require.False(t, e.Solicit(1, hash, 4), "soliciting twice fails")

	status, ok := e.Query(1, hash, 4)
	require.True(t, ok)
	require.Equal(t, uint64(solicitPending), status)

	require.NoError(t, e.Provide(1, hash, []byte("data")))
	status, _ = e.Query(1, hash, 4)
	require.Equal(t, uint64(solicitAvailable), status)

	pre, ok := e.Lookup(1, hash)
	require.True(t, ok)
	require.Equal(t, []byte("data"), pre)

	require.True(t, e.Forget(1, hash))
	_, ok = e.Query(1, hash, 4)
	require.False(t, ok)
}

func TestProvideWithoutSolicitFails(t *testing.T) {
	e := New(1000, nil, nil, nil, nil)
	hash := make([]byte, 32)
	err := e.Provide(1, hash, []byte("data"))
	require.ErrorIs(t, err, pvm.ErrPreimageNotSolicited)
}

// TestSolicitProvideLookupWithRealHash exercises the solicit/provide/lookup
// cycle keyed by an actual sha3-256 digest rather than an arbitrary byte
// string, the way a real guest would derive the hash it passes to these
// calls (the hashing itself is the guest/driver's job, not this
// environment's — see HostEnvironment.Provide's doc comment).
func TestSolicitProvideLookupWithRealHash(t *testing.T) {
	e := New(1000, nil, nil, nil, nil)
	preimage := []byte("refine work-package payload")
	digest := sha3.Sum256(preimage)

	require.True(t, e.Solicit(1, digest[:], uint32(len(preimage))))
	require.NoError(t, e.Provide(1, digest[:], preimage))

	got, ok := e.Lookup(1, digest[:])
	require.True(t, ok)
	require.Equal(t, preimage, got)
}

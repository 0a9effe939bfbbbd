package main

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequests(t *testing.T) {
	requests := NewRequests()
	key := [11]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x11, 0x22, 0x33, 0x44, 0x01}
	remote := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 68}
	start := time.Unix(1000, 0)
	requests.insert(&PENDING{key: key, remote: remote, created: start, expire: start.Add(10 * time.Second), mtype: 1})
	require.Equal(t, 1, requests.size())

	pending := requests.lookup(key)
	require.NotNil(t, pending)
	assert.Equal(t, remote, pending.remote)

	other := key
	other[10] = 0x02
	assert.Nil(t, requests.lookup(other))

	requests.erase(key)
	assert.Nil(t, requests.lookup(key))
	assert.Equal(t, 0, requests.size())
}

func TestRequestsExpire(t *testing.T) {
	requests := NewRequests()
	start := time.Unix(1000, 0)
	stale := [11]byte{1}
	fresh := [11]byte{2}
	requests.insert(&PENDING{key: stale, expire: start.Add(10 * time.Second)})
	requests.insert(&PENDING{key: fresh, expire: start.Add(20 * time.Second)})

	assert.Empty(t, requests.expire(start.Add(10*time.Second)))
	expired := requests.expire(start.Add(11 * time.Second))
	require.Len(t, expired, 1)
	assert.Equal(t, stale, expired[0].key)
	assert.Nil(t, requests.lookup(stale))
	assert.NotNil(t, requests.lookup(fresh))
}

func TestRequestsReplace(t *testing.T) {
	requests := NewRequests()
	key := [11]byte{3}
	requests.insert(&PENDING{key: key, mtype: 1})
	requests.insert(&PENDING{key: key, mtype: 3})
	assert.Equal(t, 1, requests.size())
	assert.Equal(t, byte(3), requests.lookup(key).mtype)
}

package main

import (
	"net"
	"time"
)

// PENDING is one in-flight request: inserted when a valid BOOTREQUEST is
// received, removed when the matching reply is sent or the deadline passes.
type PENDING struct {
	key     [11]byte
	remote  *net.UDPAddr
	created time.Time
	expire  time.Time
	mtype   byte
	frame   FRAME
}

// REQUESTS maps correlation keys to pending requests. It is owned by the
// dispatcher goroutine exclusively: the builtin map provides the byte-mixing
// hash and bytewise comparison over the fixed 11-byte key, and no locking is
// needed.
type REQUESTS struct {
	entries map[[11]byte]*PENDING
}

func NewRequests() *REQUESTS {
	return &REQUESTS{entries: map[[11]byte]*PENDING{}}
}

func (r *REQUESTS) insert(pending *PENDING) {
	r.entries[pending.key] = pending
}

func (r *REQUESTS) lookup(key [11]byte) *PENDING {
	return r.entries[key]
}

func (r *REQUESTS) erase(key [11]byte) {
	delete(r.entries, key)
}

func (r *REQUESTS) size() int {
	return len(r.entries)
}

// expire removes and returns every entry whose deadline has passed.
func (r *REQUESTS) expire(now time.Time) (expired []*PENDING) {
	for key, pending := range r.entries {
		if pending.expire.Before(now) {
			expired = append(expired, pending)
			delete(r.entries, key)
		}
	}
	return
}

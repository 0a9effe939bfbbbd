package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	events := make(chan EVENT, 16)
	_, err := NewPool("", 1, "", events)
	assert.Error(t, err)

	pool, err := NewPool("cat", 64, "", events)
	require.NoError(t, err)
	assert.Equal(t, MAX_WORKERS, pool.count)

	pool, err = NewPool("cat", 0, "", events)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.count)
}

func TestPoolLineExchange(t *testing.T) {
	events := make(chan EVENT, 16)
	pool, err := NewPool("cat", 1, "", events)
	require.NoError(t, err)
	worker, err := pool.spawn(0)
	require.NoError(t, err)
	require.Greater(t, worker.pid, 0)
	assert.True(t, worker.alive(time.Now()))

	_, err = worker.stdin.Write([]byte("{\"hello\":\"world\"}\n"))
	require.NoError(t, err)
	select {
	case event := <-events:
		assert.Equal(t, EVENT_LINE, event.kind)
		assert.Equal(t, `{"hello":"world"}`, string(event.line))
		assert.Equal(t, worker, event.worker)
	case <-time.After(3 * time.Second):
		t.Fatal("no line from worker")
	}

	worker.stdin.Close()
	exited := false
	deadline := time.After(3 * time.Second)
	for !exited {
		select {
		case event := <-events:
			if event.kind == EVENT_EXIT {
				worker.exited, worker.status = true, event.status
				exited = true
			}
		case <-deadline:
			t.Fatal("worker did not exit")
		}
	}

	reaped := pool.reap()
	require.Len(t, reaped, 1)
	assert.Nil(t, pool.workers[0])
}

func TestPoolRespawn(t *testing.T) {
	events := make(chan EVENT, 64)
	pool, err := NewPool("cat", 2, "", events)
	require.NoError(t, err)
	spawned, failed := pool.respawn()
	require.NoError(t, failed)
	require.Len(t, spawned, 2)
	assert.Equal(t, 2, pool.available(time.Now()))

	// a dead worker frees its slot and is replaced on the next pass
	spawned[0].cmd.Process.Kill()
	deadline := time.After(3 * time.Second)
	for !spawned[0].exited {
		select {
		case event := <-events:
			if event.kind == EVENT_EXIT && event.worker == spawned[0] {
				event.worker.exited = true
			}
		case <-deadline:
			t.Fatal("worker did not exit")
		}
	}
	assert.Len(t, pool.reap(), 1)
	replaced, failed := pool.respawn()
	require.NoError(t, failed)
	require.Len(t, replaced, 1)
	assert.Equal(t, 2, pool.available(time.Now()))

	for _, worker := range pool.workers {
		if worker != nil {
			worker.stdin.Close()
		}
	}
}

func TestPoolAliveness(t *testing.T) {
	now := time.Now()
	worker := &WORKER{pid: 100, active: now}
	assert.True(t, worker.alive(now))
	assert.True(t, worker.alive(now.Add(5*time.Second)))
	assert.False(t, worker.alive(now.Add(6*time.Second)))
	worker.exited = true
	assert.False(t, worker.alive(now))
	assert.False(t, (*WORKER)(nil).alive(now))
}

func TestPoolPick(t *testing.T) {
	now := time.Now()
	pool := &POOL{count: 3}
	pool.workers[1] = &WORKER{pid: 101, active: now}
	pool.workers[4] = &WORKER{pid: 102, active: now}
	pool.workers[7] = &WORKER{pid: 103, active: now.Add(-10 * time.Second)}
	assert.Equal(t, 2, pool.available(now))
	assert.Equal(t, 101, pool.pick(0, now).pid)
	assert.Equal(t, 102, pool.pick(1, now).pid)
	assert.Equal(t, 101, pool.pick(2, now).pid)
	assert.Equal(t, 102, pool.pick(0xff, now).pid)

	pool.workers[1], pool.workers[4] = nil, nil
	assert.Nil(t, pool.pick(0, now))
}

func TestCredentials(t *testing.T) {
	_, _, set, err := credentials("")
	assert.NoError(t, err)
	assert.False(t, set)

	if os.Geteuid() != 0 {
		// without root privileges the drop is never armed
		_, _, set, err = credentials("nobody")
		assert.NoError(t, err)
		assert.False(t, set)
		return
	}
	uid, _, set, err := credentials("root")
	assert.NoError(t, err)
	assert.True(t, set)
	assert.Equal(t, uint32(0), uid)
	_, _, _, err = credentials("no-such-user-hopefully")
	assert.Error(t, err)
}

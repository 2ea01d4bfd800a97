package safemap

import (
	"cmp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	m := New[string, int]()
	defer m.Close()

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Insert("a", 1)
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	m.Insert("a", 2)
	v, _ = m.Get("a")
	assert.Equal(t, 2, v)

	v, ok = m.Remove("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = m.Remove("a")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	m := New[string, int]()
	defer m.Close()

	m.Insert("a", 1)
	m.Insert("b", 2)
	require.Equal(t, 2, m.Len())

	m.Clear()
	assert.Equal(t, 0, m.Len())
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestSnapshotOrdered(t *testing.T) {
	m := New[string, int]()
	defer m.Close()

	m.Insert("c", 3)
	m.Insert("a", 1)
	m.Insert("b", 2)

	snap := m.Snapshot(cmp.Compare[string])
	require.Len(t, snap, 3)
	assert.Equal(t, []Entry[string, int]{{"a", 1}, {"b", 2}, {"c", 3}}, snap)
}

func TestGetReturnsClone(t *testing.T) {
	m := New(WithClone[string, []int](func(v []int) []int {
		return append([]int(nil), v...)
	}))
	defer m.Close()

	m.Insert("k", []int{1, 2, 3})
	got, _ := m.Get("k")
	got[0] = 99

	again, _ := m.Get("k")
	assert.Equal(t, []int{1, 2, 3}, again)
}

func TestRemoveFunc(t *testing.T) {
	m := New[int, string]()
	defer m.Close()

	for i := 0; i < 6; i++ {
		m.Insert(i, "v")
	}
	removed := m.RemoveFunc(func(k int, _ string) bool { return k%2 == 0 })
	assert.Len(t, removed, 3)
	assert.Equal(t, 3, m.Len())
	_, ok := m.Get(2)
	assert.False(t, ok)
	_, ok = m.Get(3)
	assert.True(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	expired := make(chan string, 1)
	m := New(
		WithTTL[string, int](10*time.Millisecond),
		OnExpire[string, int](func(k string, _ int) { expired <- k }),
	)
	defer m.Close()

	m.Insert("k", 1)
	time.Sleep(30 * time.Millisecond)

	_, ok := m.Get("k")
	assert.False(t, ok)
	_, ok = m.Remove("k")
	assert.False(t, ok)

	select {
	case k := <-expired:
		assert.Equal(t, "k", k)
	case <-time.After(time.Second):
		t.Fatal("expected expiry callback")
	}
}

func TestConcurrentRemoveExactlyOnce(t *testing.T) {
	m := New[int, int]()
	defer m.Close()

	for round := 0; round < 200; round++ {
		m.Insert(round, round)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := m.Remove(round); ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), wins.Load(), "round %d", round)
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int, int]()
	defer m.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				m.Insert(i, w)
				m.Get(i)
				if i%7 == 0 {
					m.Remove(i)
				}
				if i%100 == 0 {
					m.Snapshot(nil)
				}
			}
		}(w)
	}
	wg.Wait()
}

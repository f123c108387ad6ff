package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type instance struct {
	id     int
	closed atomic.Bool
}

func TestRegistry_SharedInstance(t *testing.T) {
	r := New[*instance]()
	var opens atomic.Int32

	open := func() (*instance, error) {
		n := opens.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return &instance{id: int(n)}, nil
	}

	const workers = 16
	got := make([]*instance, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := r.Acquire("/data/meshtel", open)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			got[i] = inst
		}(i)
	}
	wg.Wait()

	if opens.Load() != 1 {
		t.Fatalf("open called %d times, want 1", opens.Load())
	}
	for i, inst := range got {
		if inst != got[0] {
			t.Errorf("worker %d got a different instance", i)
		}
	}

	list := r.List()
	if len(list) != 1 || list[0].Refs != workers {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestRegistry_ReleaseClosesAtZero(t *testing.T) {
	r := New[*instance]()
	open := func() (*instance, error) { return &instance{}, nil }
	closeFn := func(i *instance) { i.closed.Store(true) }

	a, err := r.Acquire("k", open)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Acquire("k", open); err != nil {
		t.Fatal(err)
	}

	if r.Release("k", closeFn) {
		t.Fatal("first release should not close")
	}
	if a.closed.Load() {
		t.Fatal("instance closed while still referenced")
	}
	if !r.Release("k", closeFn) {
		t.Fatal("last release should close")
	}
	if !a.closed.Load() {
		t.Fatal("instance not closed")
	}
	if len(r.Keys()) != 0 {
		t.Fatalf("keys left after close: %v", r.Keys())
	}
	if r.Release("k", closeFn) {
		t.Fatal("release of unknown key reported close")
	}

	b, err := r.Acquire("k", open)
	if err != nil {
		t.Fatal(err)
	}
	if b == a {
		t.Fatal("closed instance was reused")
	}
}

func TestRegistry_FailedOpenNotCached(t *testing.T) {
	r := New[*instance]()
	boom := errors.New("boom")

	if _, err := r.Acquire("k", func() (*instance, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(r.Keys()) != 0 {
		t.Fatalf("failed open left keys: %v", r.Keys())
	}

	inst, err := r.Acquire("k", func() (*instance, error) { return &instance{id: 7}, nil })
	if err != nil || inst.id != 7 {
		t.Fatalf("retry failed: %v %+v", err, inst)
	}
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	r := New[*instance]()
	a, _ := r.Acquire("a", func() (*instance, error) { return &instance{id: 1}, nil })
	b, _ := r.Acquire("b", func() (*instance, error) { return &instance{id: 2}, nil })
	if a == b {
		t.Fatal("distinct keys share an instance")
	}
	keys := r.Keys()
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestRegistry_AcquireWaitsForClose(t *testing.T) {
	r := New[*instance]()
	var opens atomic.Int32
	var closing, overlapped atomic.Bool
	open := func() (*instance, error) {
		if closing.Load() {
			overlapped.Store(true)
		}
		return &instance{id: int(opens.Add(1))}, nil
	}

	first, err := r.Acquire("k", open)
	if err != nil {
		t.Fatal(err)
	}

	inClose := make(chan struct{})
	finishClose := make(chan struct{})
	released := make(chan struct{})
	go func() {
		defer close(released)
		r.Release("k", func(i *instance) {
			closing.Store(true)
			close(inClose)
			<-finishClose
			i.closed.Store(true)
			closing.Store(false)
		})
	}()
	<-inClose

	acquired := make(chan *instance, 1)
	go func() {
		inst, err := r.Acquire("k", open)
		if err != nil {
			t.Error(err)
		}
		acquired <- inst
	}()

	select {
	case <-acquired:
		t.Fatal("acquired a new instance while the previous one was closing")
	case <-time.After(50 * time.Millisecond):
	}
	if keys := r.Keys(); len(keys) != 0 {
		t.Fatalf("closing entry listed as live: %v", keys)
	}

	close(finishClose)
	second := <-acquired
	<-released

	if overlapped.Load() {
		t.Fatal("open ran while the previous instance was closing")
	}
	if opens.Load() != 2 {
		t.Fatalf("open called %d times, want 2", opens.Load())
	}
	if !first.closed.Load() || second == first {
		t.Fatal("expected the closed instance to be replaced")
	}
}

package profilecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
)

func TestGetSetCaseInsensitive(t *testing.T) {
	c := New()
	p := &profile.Profile{Username: "Ada"}
	c.Set("Ada", p)

	got, ok := c.Get("ADA")
	if !ok || got != p {
		t.Fatalf("Get(ADA) = %v, %v; want stored profile", got, ok)
	}
	if _, ok := c.Get("grace"); ok {
		t.Error("Get(grace) hit on empty key")
	}
}

func TestExpiry(t *testing.T) {
	c := New(WithTTL(50 * time.Millisecond))
	c.Set("ada", &profile.Profile{Username: "ada"})

	if _, ok := c.Get("ada"); !ok {
		t.Fatal("fresh entry missing")
	}
	time.Sleep(120 * time.Millisecond)
	if _, ok := c.Get("ada"); ok {
		t.Error("expired entry returned")
	}
}

func TestMaxEntries(t *testing.T) {
	c := New(WithMaxEntries(2))
	c.Set("a", &profile.Profile{})
	c.Set("b", &profile.Profile{})
	c.Set("c", &profile.Profile{})

	if got := c.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("least recently used entry was not evicted")
	}
}

func TestGetOrLoadCoalesces(t *testing.T) {
	c := New()
	var loads atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) (*profile.Profile, error) {
		loads.Add(1)
		<-release
		return &profile.Profile{Username: "ada"}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*profile.Profile, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Go(func() {
			results[i], errs[i] = c.GetOrLoad(context.Background(), "Ada", load)
		})
	}

	// Let every caller reach the in-flight load before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := loads.Load(); got != 1 {
		t.Errorf("loads = %d, want 1", got)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Errorf("caller %d got a different profile", i)
		}
	}

	if _, err := c.GetOrLoad(context.Background(), "ada", load); err != nil {
		t.Fatalf("cached GetOrLoad error = %v", err)
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("loads after cached call = %d, want 1", got)
	}
	if s := c.Stats(); s.Entries != 1 || s.Hits < 1 {
		t.Errorf("Stats() = %+v, want one entry and a hit", s)
	}
}

func TestGetOrLoadErrorsNotCached(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	var loads atomic.Int32
	load := func(context.Context) (*profile.Profile, error) {
		loads.Add(1)
		return nil, boom
	}

	for range 2 {
		if _, err := c.GetOrLoad(context.Background(), "ada", load); !errors.Is(err, boom) {
			t.Fatalf("GetOrLoad() error = %v, want boom", err)
		}
	}
	if got := loads.Load(); got != 2 {
		t.Errorf("loads = %d, want 2", got)
	}
	if c.Len() != 0 {
		t.Error("failed load was cached")
	}
}

func TestGetOrLoadCallerCancelDoesNotAbortLoad(t *testing.T) {
	c := New()
	release := make(chan struct{})
	loaded := make(chan error, 1)

	load := func(ctx context.Context) (*profile.Profile, error) {
		<-release
		loaded <- ctx.Err()
		return &profile.Profile{Username: "ada"}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrLoad(ctx, "ada", load)
		done <- err
	}()

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("GetOrLoad() error = %v, want context.Canceled", err)
	}

	close(release)
	if err := <-loaded; err != nil {
		t.Errorf("load context error = %v, want nil", err)
	}
	deadline := time.Now().Add(time.Second)
	for c.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := c.Get("ada"); !ok {
		t.Error("detached load result was not cached")
	}
}

package server

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	contentmemory "github.com/marmos91/plevy/pkg/content/memory"
	"github.com/marmos91/plevy/pkg/projection"
	"github.com/marmos91/plevy/pkg/registry"
	entrymemory "github.com/marmos91/plevy/pkg/store/entry/memory"
)

// fakeAdapter serves until its context is cancelled or failWith fires.
type fakeAdapter struct {
	protocol string
	port     int
	failWith chan error

	mu       sync.Mutex
	registry *registry.Registry
	started  bool
	stopped  int
	order    *[]string
	orderMu  *sync.Mutex
}

func newFake(protocol string, port int, order *[]string, orderMu *sync.Mutex) *fakeAdapter {
	return &fakeAdapter{protocol: protocol, port: port, failWith: make(chan error, 1), order: order, orderMu: orderMu}
}

func (f *fakeAdapter) Serve(ctx context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-f.failWith:
		return err
	}
}

func (f *fakeAdapter) SetRegistry(reg *registry.Registry) {
	f.registry = reg
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
	if f.order != nil {
		f.orderMu.Lock()
		*f.order = append(*f.order, f.protocol)
		f.orderMu.Unlock()
	}
	return nil
}

func (f *fakeAdapter) Protocol() string { return f.protocol }
func (f *fakeAdapter) Port() int        { return f.port }

func (f *fakeAdapter) isStarted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

func (f *fakeAdapter) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	g := NewWithT(t)

	entries, err := entrymemory.NewMemoryEntryStore(entrymemory.MemoryEntryStoreConfig{})
	g.Expect(err).NotTo(HaveOccurred())
	source := contentmemory.NewMemoryContentSource()
	fs, err := projection.New(entries, source, projection.Config{})
	g.Expect(err).NotTo(HaveOccurred())
	reg, err := registry.New(entries, source, fs)
	g.Expect(err).NotTo(HaveOccurred())
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestAddAdapterInjectsRegistry(t *testing.T) {
	g := NewWithT(t)
	reg := newTestRegistry(t)
	srv := New(reg, Options{})

	a := newFake("API", 3000, nil, nil)
	g.Expect(srv.AddAdapter(a)).To(Succeed())
	g.Expect(a.registry).To(BeIdenticalTo(reg))
	g.Expect(srv.Adapters()).To(HaveLen(1))
	g.Expect(srv.Registry()).To(BeIdenticalTo(reg))
}

func TestAddAdapterRejectsConflicts(t *testing.T) {
	g := NewWithT(t)
	srv := New(newTestRegistry(t), Options{})

	g.Expect(srv.AddAdapter(newFake("API", 3000, nil, nil))).To(Succeed())
	g.Expect(srv.AddAdapter(newFake("API", 3001, nil, nil))).To(MatchError(ContainSubstring("already registered")))
	g.Expect(srv.AddAdapter(newFake("NFS", 3000, nil, nil))).To(MatchError(ContainSubstring("port 3000")))

	// Port 0 never conflicts
	g.Expect(srv.AddAdapter(newFake("FUSE", 0, nil, nil))).To(Succeed())
	g.Expect(srv.AddAdapter(newFake("OTHER", 0, nil, nil))).To(Succeed())
}

func TestServeWithoutAdapters(t *testing.T) {
	g := NewWithT(t)
	srv := New(newTestRegistry(t), Options{})
	g.Expect(srv.Serve(context.Background())).To(MatchError(ContainSubstring("no adapters")))
}

func TestServeStopsInReverseOrderOnCancel(t *testing.T) {
	g := NewWithT(t)
	srv := New(newTestRegistry(t), Options{ShutdownTimeout: time.Second})

	var order []string
	var orderMu sync.Mutex
	fuse := newFake("FUSE", 0, &order, &orderMu)
	api := newFake("API", 3000, &order, &orderMu)
	g.Expect(srv.AddAdapter(fuse)).To(Succeed())
	g.Expect(srv.AddAdapter(api)).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	g.Eventually(fuse.isStarted).Should(BeTrue())
	g.Eventually(api.isStarted).Should(BeTrue())

	cancel()
	g.Eventually(done, 2*time.Second).Should(Receive(MatchError(context.Canceled)))

	orderMu.Lock()
	defer orderMu.Unlock()
	g.Expect(order).To(Equal([]string{"API", "FUSE"}))
}

func TestServeStopsAllOnAdapterFailure(t *testing.T) {
	g := NewWithT(t)
	srv := New(newTestRegistry(t), Options{ShutdownTimeout: time.Second})

	fuse := newFake("FUSE", 0, nil, nil)
	api := newFake("API", 3000, nil, nil)
	g.Expect(srv.AddAdapter(fuse)).To(Succeed())
	g.Expect(srv.AddAdapter(api)).To(Succeed())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(context.Background()) }()
	g.Eventually(api.isStarted).Should(BeTrue())

	boom := errors.New("listener exploded")
	api.failWith <- boom

	var err error
	g.Eventually(done, 2*time.Second).Should(Receive(&err))
	g.Expect(err).To(MatchError(boom))
	g.Expect(err.Error()).To(ContainSubstring("API adapter error"))
	g.Expect(fuse.stopCount()).To(Equal(1))
	g.Expect(api.stopCount()).To(Equal(1))
}

func TestServeOnlyOnce(t *testing.T) {
	g := NewWithT(t)
	srv := New(newTestRegistry(t), Options{})
	g.Expect(srv.AddAdapter(newFake("API", 3000, nil, nil))).To(Succeed())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.Expect(srv.Serve(ctx)).To(MatchError(context.Canceled))
	g.Expect(srv.Serve(ctx)).To(MatchError(ContainSubstring("already been called")))
	g.Expect(srv.AddAdapter(newFake("NFS", 12049, nil, nil))).To(HaveOccurred())
}

func TestAcquireLock(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "run", "plevy.lock")

	lock, err := AcquireLock(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(lock.Path()).To(Equal(path))

	_, err = AcquireLock(path)
	g.Expect(err).To(MatchError(ErrAlreadyRunning))

	g.Expect(lock.Release()).To(Succeed())

	again, err := AcquireLock(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(again.Release()).To(Succeed())
}

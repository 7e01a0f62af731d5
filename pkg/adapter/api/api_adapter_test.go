package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"

	"github.com/marmos91/plevy/pkg/content"
	contentmemory "github.com/marmos91/plevy/pkg/content/memory"
	"github.com/marmos91/plevy/pkg/projection"
	"github.com/marmos91/plevy/pkg/registry"
	entrymemory "github.com/marmos91/plevy/pkg/store/entry/memory"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	g := NewWithT(t)

	entries, err := entrymemory.NewMemoryEntryStore(entrymemory.MemoryEntryStoreConfig{FirstID: 100})
	g.Expect(err).NotTo(HaveOccurred())
	source := contentmemory.NewMemoryContentSource()
	g.Expect(source.Put(content.Ref{SourceID: "abc"}, []byte("0123456789"))).To(Succeed())

	fs, err := projection.New(entries, source, projection.Config{ResolveSize: true})
	g.Expect(err).NotTo(HaveOccurred())
	reg, err := registry.New(entries, source, fs)
	g.Expect(err).NotTo(HaveOccurred())
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestAdapterServesAndShutsDown(t *testing.T) {
	g := NewWithT(t)
	reg := newTestRegistry(t)

	adapter, err := New(APIConfig{listenAny: true}, nil)
	g.Expect(err).NotTo(HaveOccurred())
	adapter.SetRegistry(reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- adapter.Serve(ctx) }()

	g.Eventually(adapter.Port, time.Second).ShouldNot(BeZero())
	base := fmt.Sprintf("http://127.0.0.1:%d", adapter.Port())

	g.Eventually(func() (int, error) {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		return resp.StatusCode, nil
	}, 2*time.Second).Should(Equal(http.StatusOK))

	resp, err := http.Post(base+"/entries", "application/json",
		strings.NewReader(`{"name":"movie.mkv","source_id":"abc","source_index":0}`))
	g.Expect(err).NotTo(HaveOccurred())
	var id uint64
	g.Expect(json.NewDecoder(resp.Body).Decode(&id)).To(Succeed())
	_ = resp.Body.Close()
	g.Expect(resp.StatusCode).To(Equal(http.StatusCreated))
	g.Expect(id).To(Equal(uint64(100)))

	// The projection sees the new entry as soon as POST returns
	attrs, err := reg.Filesystem().Lookup(context.Background(), projection.RootInode, "movie.mkv")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(attrs.Ino).To(Equal(projection.Inode(100)))
	g.Expect(attrs.Size).To(Equal(uint64(10)))

	cancel()
	g.Eventually(done, 2*time.Second).Should(Receive(BeNil()))
	g.Expect(adapter.Stop(context.Background())).To(Succeed(), "Stop is idempotent")
}

func TestAdapterDefaults(t *testing.T) {
	g := NewWithT(t)

	adapter, err := New(APIConfig{}, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(adapter.config.Address).To(Equal("127.0.0.1"))
	g.Expect(adapter.Port()).To(Equal(3000))
	g.Expect(adapter.Protocol()).To(Equal("API"))

	_, err = New(APIConfig{Port: 70000}, nil)
	g.Expect(err).To(HaveOccurred())

	_, err = New(APIConfig{ReadTimeout: -time.Second}, nil)
	g.Expect(err).To(HaveOccurred())
}

func TestAdapterRequiresRegistry(t *testing.T) {
	g := NewWithT(t)

	adapter, err := New(APIConfig{listenAny: true}, nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(adapter.Serve(context.Background())).To(MatchError(ContainSubstring("registry not set")))
}

func TestAdapterStopBeforeServe(t *testing.T) {
	g := NewWithT(t)

	adapter, err := New(APIConfig{listenAny: true}, nil)
	g.Expect(err).NotTo(HaveOccurred())
	adapter.SetRegistry(newTestRegistry(t))

	g.Expect(adapter.Stop(context.Background())).To(Succeed())
	g.Expect(adapter.Serve(context.Background())).To(Succeed())
}

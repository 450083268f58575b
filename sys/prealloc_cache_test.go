package sys

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func resetPreallocCacheForTest() {
	preallocCache.Range(func(k, v any) bool {
		preallocCache.Delete(k)
		return true
	})
	preallocCacheHits.Store(0)
	preallocCacheMisses.Store(0)
}

func TestPreallocCacheStoreLoad(t *testing.T) {
	resetPreallocCacheForTest()
	defer resetPreallocCacheForTest()

	const devID = uint64(0xABCD)
	if allow, found := preallocCacheLoad(devID); found {
		t.Fatalf("expected not found for dev %d, but found allow=%v", devID, allow)
	}

	preallocCacheStore(devID, false)
	if allow, found := preallocCacheLoad(devID); !found || allow {
		t.Fatalf("expected stored false for dev %d, got found=%v allow=%v", devID, found, allow)
	}

	preallocCacheStore(devID, true)
	if allow, found := preallocCacheLoad(devID); !found || !allow {
		t.Fatalf("expected stored true for dev %d, got found=%v allow=%v", devID, found, allow)
	}

	hits, misses := PreallocCacheStats()
	if hits != 0 || misses != 0 {
		t.Fatalf("stores must not touch counters: hits=%d misses=%d", hits, misses)
	}
}

func TestPreallocate_KeepsVisibleSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prealloc")
	fh, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer fh.Close()

	if _, err := fh.Write([]byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := Preallocate(fh, 0); err != nil {
		t.Fatalf("zero size should be a no-op, got %v", err)
	}
	err = Preallocate(fh, 1<<20)
	if err != nil && !errors.Is(err, ErrPreallocNotSupported) {
		t.Fatalf("Preallocate: %v", err)
	}

	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if st.Size() != 3 {
		t.Fatalf("visible size changed to %d, want 3", st.Size())
	}
}

package lock

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func TestMutexMap_LockUnlock(t *testing.T) {
	m := NewMutexMap()

	m.Lock("tree:/tmp/a")
	m.Unlock("tree:/tmp/a")

	// Should be able to lock again
	m.Lock("tree:/tmp/a")
	m.Unlock("tree:/tmp/a")
}

func TestMutexMap_TryLock(t *testing.T) {
	m := NewMutexMap()
	key := TreeKey("/tmp/repo")

	if !m.TryLock(key) {
		t.Fatal("first TryLock should succeed")
	}
	if m.TryLock(key) {
		t.Error("second TryLock should fail while held")
	}
	m.Unlock(key)
	if !m.TryLock(key) {
		t.Error("TryLock should succeed after Unlock")
	}
	m.Unlock(key)
}

func TestMutexMap_DifferentKeys(t *testing.T) {
	m := NewMutexMap()

	done := make(chan struct{})

	m.Lock("tree:/tmp/a")
	go func() {
		// a different tree must not be blocked
		m.Lock("tree:/tmp/b")
		m.Unlock("tree:/tmp/b")
		close(done)
	}()

	<-done
	m.Unlock("tree:/tmp/a")
}

func TestMutexMap_Concurrent(t *testing.T) {
	m := NewMutexMap()
	var counter int64

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("shared")
			atomic.AddInt64(&counter, 1)
			m.Unlock("shared")
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected counter=100, got %d", counter)
	}
}

func TestFileLock_TryLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.lock")

	fl := NewFileLock(path)
	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}

	// A second lock on the same path must fail while held
	fl2 := NewFileLock(path)
	if err := fl2.TryLock(); err == nil {
		fl2.Unlock()
		t.Error("second TryLock should have failed")
	}

	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	// After release, locking succeeds again
	fl3 := NewFileLock(path)
	if err := fl3.TryLock(); err != nil {
		t.Fatalf("TryLock after release failed: %v", err)
	}
	fl3.Unlock()
}

func TestFileLock_CreatesParentDir(t *testing.T) {
	workDir := t.TempDir()

	fl := NewFileLock(TreeLockPath(workDir))
	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock should create the locks dir: %v", err)
	}
	defer fl.Unlock()

	fl2 := NewFileLock(TreeLockPath(workDir))
	if err := fl2.TryLock(); err == nil {
		fl2.Unlock()
		t.Error("tree lock not exclusive across handles")
	}
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "x.lock"))
	if err := fl.Unlock(); err != nil {
		t.Errorf("Unlock without lock should be a no-op, got %v", err)
	}
}

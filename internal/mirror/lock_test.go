package mirror

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

func TestWithLockSerializesCriticalSections(t *testing.T) {
	desc := testDescriptor(t, t.TempDir(), t.TempDir())

	var inside bool
	var counter int
	var wg sync.WaitGroup
	errs := make(chan error, 8)

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- desc.WithLock(context.Background(), func() error {
				if inside {
					return errors.New("two holders inside the critical section")
				}
				inside = true
				time.Sleep(5 * time.Millisecond)
				counter++
				inside = false
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("WithLock: %v", err)
		}
	}
	if counter != 8 {
		t.Fatalf("counter = %d, want 8", counter)
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	desc := testDescriptor(t, t.TempDir(), t.TempDir())

	boom := errors.New("boom")
	if err := desc.WithLock(context.Background(), func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("WithLock error = %v, want %v", err, boom)
	}

	// The previous failure must not leave the lock held.
	ran := false
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := desc.WithLock(ctx, func() error { ran = true; return nil }); err != nil {
		t.Fatalf("reacquire after error: %v", err)
	}
	if !ran {
		t.Fatal("critical section did not run on reacquisition")
	}
}

func TestWithLockHonorsContextCancellation(t *testing.T) {
	desc := testDescriptor(t, t.TempDir(), t.TempDir())

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- desc.WithLock(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := desc.WithLock(ctx, func() error {
		t.Error("critical section ran despite expired context")
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WithLock with expired context = %v, want deadline exceeded", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
}

func TestWithLockCreatesParentDir(t *testing.T) {
	upstream := t.TempDir()
	parent := t.TempDir()
	desc := testDescriptor(t, upstream, parent)
	desc.ParentDir = parent + "/nested/mirrors"
	desc.Dir = desc.ParentDir + "/local.test/acme/widgets"

	if err := desc.WithLock(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if _, err := os.Stat(desc.ParentDir); err != nil {
		t.Fatalf("parent dir not created: %v", err)
	}
}

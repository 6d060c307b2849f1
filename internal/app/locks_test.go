package service

import (
	"sync"
	"testing"
)

func TestTeamLocks(t *testing.T) {
	locks := newTeamLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if n := locks.size(); n != 0 {
		t.Fatalf("expected released locks to be dropped, %d left", n)
	}
}

func TestTeamLocks_Independent(t *testing.T) {
	locks := newTeamLocks()
	unlockA := locks.Lock(1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock(2)
		unlock()
		close(done)
	}()
	<-done
}

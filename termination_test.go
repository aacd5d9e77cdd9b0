package seeker

import (
	"sync"
	"testing"
	"time"
)

func TestTermination(t *testing.T) {
	var term Termination

	if term.IsStopRequested() {
		t.FailNow()
	}
	select {
	case <-term.Done():
		t.FailNow()
	default:
	}

	term.RequestStop()
	term.RequestStop()

	if !term.IsStopRequested() {
		t.FailNow()
	}
	select {
	case <-term.Done():
	case <-time.After(time.Second):
		t.FailNow()
	}
}

func TestTerminationConcurrent(t *testing.T) {
	term := &Termination{}

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			term.RequestStop()
		}()
		go func() {
			defer wg.Done()
			term.IsStopRequested()
			term.Done()
		}()
	}
	wg.Wait()

	if !term.IsStopRequested() {
		t.FailNow()
	}
}

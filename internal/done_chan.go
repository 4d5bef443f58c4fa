// Package internal holds small scheduling primitives shared by the
// engine's run loop, its lease supervisor, and the storage backends'
// background TTL sweepers: a done-channel lifecycle signal and a
// ticking background task. None of it is domain-specific to jobs.
package internal

import "sync"

// DoneChan closes once the work it represents has finished.
type DoneChan chan struct{}

// DoneFunc starts or references some background work and returns a
// channel that closes when it is done.
type DoneFunc func() DoneChan

func wrapWaitGroup(wg *sync.WaitGroup) DoneChan {
	ret := make(DoneChan)
	go func() {
		wg.Wait()
		close(ret)
	}()
	return ret
}

// Combine returns a DoneChan that closes once every channel in dones has
// closed. Used to wait on the run loop and the lease supervisor
// together during an engine shutdown.
func Combine(dones ...DoneChan) DoneChan {
	ret := make(DoneChan)
	go func() {
		for _, d := range dones {
			<-d
		}
		close(ret)
	}()
	return ret
}

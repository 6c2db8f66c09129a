package runlock

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	regMu     sync.Mutex
	registry  = make(map[*Lease]struct{})
	installed bool
)

// ReleaseOnSignal guarantees the lease is released when the process is
// interrupted, terminated, or hung up. Combined with a defer of Release,
// every exit path removes the lock file.
func ReleaseOnSignal(l *Lease) {
	regMu.Lock()
	registry[l] = struct{}{}
	if !installed {
		installed = true
		go watchSignals()
	}
	regMu.Unlock()
}

func unregister(l *Lease) {
	regMu.Lock()
	delete(registry, l)
	regMu.Unlock()
}

func watchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	sig := <-sigCh

	regMu.Lock()
	leases := make([]*Lease, 0, len(registry))
	for l := range registry {
		leases = append(leases, l)
	}
	regMu.Unlock()

	for _, l := range leases {
		l.Release()
	}

	// Exit with the conventional code for the signal.
	signal.Stop(sigCh)
	if s, ok := sig.(syscall.Signal); ok {
		os.Exit(128 + int(s))
	}
	os.Exit(1)
}

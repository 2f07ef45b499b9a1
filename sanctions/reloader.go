package sanctions

import (
	"sync"

	"github.com/lightningnetwork/lnd/ticker"
)

// Reloader reloads a ListScreener from its file on every tick so that list
// updates are picked up without a restart. A failed reload keeps the last
// good list.
type Reloader struct {
	started sync.Once
	stopped sync.Once

	screener *ListScreener
	ticker   ticker.Ticker

	// reloaded, if set, is notified after every reload attempt.
	reloaded func(error)

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewReloader creates a reloader for the screener driven by t.
func NewReloader(screener *ListScreener, t ticker.Ticker) *Reloader {
	return &Reloader{
		screener: screener,
		ticker:   t,
		quit:     make(chan struct{}),
	}
}

// Start begins reloading on every tick.
func (r *Reloader) Start() {
	r.started.Do(func() {
		log.Debugf("Sanctions list reloader starting")

		r.ticker.Resume()

		r.wg.Add(1)
		go r.reloadLoop()
	})
}

// Stop halts the reloader and waits for it to exit.
func (r *Reloader) Stop() {
	r.stopped.Do(func() {
		log.Debugf("Sanctions list reloader stopping")

		close(r.quit)
		r.wg.Wait()
		r.ticker.Stop()
	})
}

func (r *Reloader) reloadLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ticker.Ticks():
			err := r.screener.Reload()
			if err != nil {
				log.Warnf("Keeping previous sanctions list: %v",
					err)
			}

			if r.reloaded != nil {
				r.reloaded(err)
			}

		case <-r.quit:
			return
		}
	}
}

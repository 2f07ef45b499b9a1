// Package signal turns process signals and in-process shutdown requests into
// one shutdown notification for the daemon.
package signal

import (
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// started guards against installing two process signal handlers.
var started atomic.Bool

// ErrAlreadyStarted is returned by a second call to Intercept.
var ErrAlreadyStarted = errors.New("signal interceptor already started")

// Interceptor reports when the daemon should shut down. Copies share state.
type Interceptor struct {
	// signals receives SIGINT, SIGTERM and SIGQUIT.
	signals chan os.Signal

	// requests carries shutdown requests from inside the daemon, for
	// example from a failed health check.
	requests chan struct{}

	// quit is closed as soon as shutdown begins.
	quit chan struct{}

	// done is closed once the handler goroutine has exited.
	done chan struct{}
}

// Intercept installs the process signal handler. Only one interceptor may run
// at a time.
func Intercept() (Interceptor, error) {
	if !started.CompareAndSwap(false, true) {
		return Interceptor{}, ErrAlreadyStarted
	}

	c := newInterceptor()
	signal.Notify(
		c.signals, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT,
	)
	go c.run()

	return c, nil
}

func newInterceptor() Interceptor {
	return Interceptor{
		signals:  make(chan os.Signal, 1),
		requests: make(chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// run waits for the first signal or request and then shuts down. Later
// signals are left to the default handler.
func (c *Interceptor) run() {
	defer started.Store(false)

	select {
	case sig := <-c.signals:
		log.Infof("Received %v, shutting down", sig)

	case <-c.requests:
		log.Infof("Shutdown requested, shutting down")
	}

	close(c.quit)
	signal.Stop(c.signals)
	close(c.done)
}

// Alive reports whether shutdown has not started yet.
func (c *Interceptor) Alive() bool {
	select {
	case <-c.quit:
		return false
	default:
		return true
	}
}

// RequestShutdown starts a graceful shutdown. It never blocks once shutdown
// is underway.
func (c *Interceptor) RequestShutdown() {
	select {
	case c.requests <- struct{}{}:
	case <-c.quit:
	}
}

// ShutdownChannel is closed once shutdown has started and the handler is
// gone.
func (c *Interceptor) ShutdownChannel() <-chan struct{} {
	return c.done
}

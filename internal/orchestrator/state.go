package orchestrator

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/sirupsen/logrus"
)

// State carries the run's termination flag between the signal watcher and the
// control loop. The watcher only sets the flag; the loop observes it at every
// iteration boundary and performs the cancellation cascade itself.
type State struct {
	terminated atomic.Bool
	once       sync.Once
	done       chan struct{}
}

// NewState returns a state that has not been terminated.
func NewState() *State {
	return &State{done: make(chan struct{})}
}

// Terminate sets the flag. It is safe to call more than once and from any
// goroutine.
func (s *State) Terminate() {
	s.terminated.Store(true)
	s.once.Do(func() { close(s.done) })
}

// Terminated reports whether Terminate has been called.
func (s *State) Terminated() bool {
	return s.terminated.Load()
}

// Done is closed by the first Terminate.
func (s *State) Done() <-chan struct{} {
	return s.done
}

// WatchSignals terminates state on SIGINT or SIGTERM until the returned stop
// function is called.
func WatchSignals(state *State, logger *logrus.Entry) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	quit := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigs:
				logger.WithField("signal", sig.String()).Warn("signal received, terminating run")
				state.Terminate()
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(quit)
		})
	}
}

package main

import (
	"os"
	"os/signal"
	"syscall"
)

type interrupter interface {
	Interrupt()
}

// notifyInterrupt forwards SIGINT and SIGTERM to target until the returned
// stop function is called. Every signal becomes a shutdown request.
func notifyInterrupt(target interrupter) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-sigs:
				target.Interrupt()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

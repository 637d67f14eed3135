package shared

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"
)

// ShutdownGrace is how long connections get to be destroyed after the
// first termination signal.
const ShutdownGrace = 5 * time.Second

// SetupSignalHandling cancels the context on the first termination signal
// so connections are destroyed cleanly, and exits on the second or once
// grace has passed.
func SetupSignalHandling(cancel context.CancelFunc, grace time.Duration) {
	sigCh := make(chan os.Signal, 2)

	sigs := []os.Signal{os.Interrupt}
	if runtime.GOOS != "windows" {
		sigs = append(sigs, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
		// a peer resetting the connection must surface as an error, not kill us
		signal.Ignore(syscall.SIGPIPE)
	}
	signal.Notify(sigCh, sigs...)

	go handleSignals(sigCh, cancel, grace, os.Exit)
}

func handleSignals(sigCh <-chan os.Signal, cancel context.CancelFunc, grace time.Duration, exit func(int)) {
	s := <-sigCh
	cancel()

	select {
	case <-sigCh:
		exit(exitCode(s))
	case <-time.After(grace):
		exit(0)
	}
}

// exitCode maps s to the POSIX 128+n convention.
func exitCode(s os.Signal) int {
	if ss, ok := s.(syscall.Signal); ok {
		return 128 + int(ss)
	}
	return 1
}

//go:build windows

package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func notifySignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// handleSignal returns true if the process should keep running. Windows has
// no runtime toggles; any signal shuts down.
func handleSignal(_ os.Signal, _ *logrus.Entry, _ *metricsController) bool {
	return false
}

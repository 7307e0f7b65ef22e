// Package adapter provides adapters for kernel-bridge integration with
// external systems.
package adapter

import (
	"fmt"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/srediag/kernel-bridge/pkg/kernel"
)

const (
	maxGoroutines     = 2000
	maxMemUsedPercent = 95.0
	loopPingTimeout   = time.Second
)

// NewHealthHandler builds an HTTP health handler for a running registry:
// liveness covers the dispatch loop and goroutine count, readiness covers
// host memory headroom.
func NewHealthHandler(reg *kernel.Registry) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("dispatch-loop", func() error {
		return reg.Ping(loopPingTimeout)
	})
	h.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(maxGoroutines))
	h.AddReadinessCheck("memory-headroom", func() error {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return err
		}
		if vm.UsedPercent > maxMemUsedPercent {
			return fmt.Errorf("memory used %.1f%% exceeds %.1f%%", vm.UsedPercent, maxMemUsedPercent)
		}
		return nil
	})
	return h
}

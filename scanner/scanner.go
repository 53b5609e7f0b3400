package scanner

import (
	"context"
	"fmt"
	"iter"

	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/queue"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Scanner streams device observations from an Adapter.
type Scanner struct {
	adapter device.Adapter
	logger  *logrus.Logger
}

// NewScanner creates a scanner over adapter.
func NewScanner(adapter device.Adapter, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{adapter: adapter, logger: logger}
}

// Scan returns a lazy, infinite sequence of observations matching filter.
//
// Every advertisement is yielded, repeats included; deduplication is up to
// the caller. Each range over the sequence runs its own watcher. The sequence
// ends without error when ctx is done or the caller stops ranging; on
// cancellation, observations already queued are still yielded first. A
// watcher that cannot start yields a single error.
func (s *Scanner) Scan(ctx context.Context, filter device.DeviceFilter, progressCallback ProgressCallback) iter.Seq2[device.DeviceInfo, error] {
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	return func(yield func(device.DeviceInfo, error) bool) {
		var zero device.DeviceInfo
		log := s.logger.WithField("filter", filter.String())

		watcher, err := s.adapter.NewWatcher(device.WatchSelector{Filter: filter})
		if err != nil {
			yield(zero, fmt.Errorf("failed to create watcher: %w", err))
			return
		}

		// Watcher callbacks run on a backend goroutine; the queue is their only hand-off.
		observations := queue.New[device.DeviceInfo]()
		watcher.OnAdded(func(info device.DeviceInfo) {
			observations.Send(info)
		})
		watcher.OnUpdated(func(device.DeviceInfo) {})

		stopped := false
		stop := func() {
			if stopped {
				return
			}
			stopped = true
			if err := watcher.Stop(); err != nil {
				log.WithError(err).Warn("Failed to stop scan watcher")
			}
			observations.Close()
		}
		defer stop()

		if err := watcher.Start(); err != nil {
			yield(zero, fmt.Errorf("failed to start scan: %w", err))
			return
		}
		log.Info("Scan started")
		progressCallback("Scanning")

		for {
			info, ok := observations.Receive(ctx)
			if !ok {
				break
			}
			if !yield(info, nil) {
				return
			}
		}

		stop()
		for {
			info, ok := observations.TryReceive()
			if !ok {
				break
			}
			if !yield(info, nil) {
				return
			}
		}

		m := observations.GetMetrics()
		log.WithFields(logrus.Fields{
			"observations": m.Processed,
			"dropped":      m.Rejected,
		}).Info("Scan stopped")
		progressCallback("Stopped")
	}
}

// Collect drains seq and returns the observations. The sequence must be
// bounded by its context, e.g. one with a deadline.
func Collect(seq iter.Seq2[device.DeviceInfo, error]) ([]device.DeviceInfo, error) {
	var out []device.DeviceInfo
	for info, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, info)
	}
	return out, nil
}

package scanner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/testutils"
	"github.com/srg/bletools/scanner"
	"github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	le1, le2, classic *testutils.FakePeripheral
}

func (s *ScannerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.le1 = testutils.NewFakePeripheral("AA:BB:CC:DD:EE:FF").WithName("Test Device 1")
	s.le2 = testutils.NewFakePeripheral("11:22:33:44:55:66").WithName("Test Device 2")
	s.classic = testutils.NewFakePeripheral("99:88:77:66:55:44").WithName("Headset").Classic()
}

// startedWatcher waits until the scan has started its watcher.
func (s *ScannerTestSuite) startedWatcher(adapter *testutils.FakeAdapter) *testutils.FakeWatcher {
	s.Require().Eventually(func() bool {
		return adapter.WatchersStarted.Load() == 1
	}, time.Second, 5*time.Millisecond)
	return adapter.Watchers()[0]
}

func (s *ScannerTestSuite) TestScanYieldsRepeats() {
	// GOAL: the scanner never deduplicates; repeat advertisements reach the caller
	s.le1.WithRepeats(2)
	adapter := testutils.NewFakeAdapter(s.le1, s.le2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counts := map[string]int{}
	total := 0
	for info, err := range scanner.NewScanner(adapter, s.helper.Logger).Scan(ctx, device.BluetoothLE, nil) {
		s.Require().NoError(err)
		counts[info.Address]++
		if total++; total == 4 {
			cancel()
		}
	}

	s.Equal(map[string]int{"AA:BB:CC:DD:EE:FF": 3, "11:22:33:44:55:66": 1}, counts)
	s.Equal(int32(1), adapter.WatchersStopped.Load(), "MUST stop the watcher on cancellation")
}

func (s *ScannerTestSuite) TestScanFilter() {
	tests := []struct {
		filter   device.DeviceFilter
		expected []string
	}{
		{device.BluetoothLE, []string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66"}},
		{device.BluetoothClassic, []string{"99:88:77:66:55:44"}},
		{device.All, []string{"AA:BB:CC:DD:EE:FF", "11:22:33:44:55:66", "99:88:77:66:55:44"}},
	}

	for _, tt := range tests {
		s.Run(tt.filter.String(), func() {
			adapter := testutils.NewFakeAdapter(s.le1, s.le2, s.classic)
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			infos, err := scanner.Collect(scanner.NewScanner(adapter, s.helper.Logger).Scan(ctx, tt.filter, nil))
			s.Require().NoError(err)

			var got []string
			for _, info := range infos {
				got = append(got, info.Address)
			}
			s.ElementsMatch(tt.expected, got)
			s.Equal(tt.filter, adapter.Watchers()[0].Selector.Filter)
		})
	}
}

func (s *ScannerTestSuite) TestCancellationDeliversQueuedObservations() {
	// TEST SCENARIO: consumer blocked on the first observation → 5 more enqueued →
	// cancel → consumer resumes → all 6 delivered exactly once → sequence ends without error
	adapter := testutils.NewFakeAdapter()
	adapter.ManualAdvertising = true
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gate := make(chan struct{})
	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan error, 1)
	go func() {
		for info, err := range scanner.NewScanner(adapter, s.helper.Logger).Scan(ctx, device.All, nil) {
			if err != nil {
				done <- err
				return
			}
			mu.Lock()
			got = append(got, info.ID)
			first := len(got) == 1
			mu.Unlock()
			if first {
				<-gate
			}
		}
		done <- nil
	}()

	w := s.startedWatcher(adapter)
	s.Require().True(w.Emit(device.DeviceInfo{ID: "obs-0"}))
	s.Require().Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	for _, id := range []string{"obs-1", "obs-2", "obs-3", "obs-4", "obs-5"} {
		s.Require().True(w.Emit(device.DeviceInfo{ID: id}))
	}
	cancel()
	close(gate)

	select {
	case err := <-done:
		s.NoError(err, "cancellation MUST end the sequence without error")
	case <-time.After(time.Second):
		s.Fail("scan did not end after cancellation")
	}

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"obs-0", "obs-1", "obs-2", "obs-3", "obs-4", "obs-5"}, got)
	s.True(w.Stopped())
	s.False(w.Emit(device.DeviceInfo{ID: "late"}), "MUST NOT observe after stop")
}

func (s *ScannerTestSuite) TestBreakStopsWatcher() {
	adapter := testutils.NewFakeAdapter(s.le1.WithRepeats(10))

	for range scanner.NewScanner(adapter, s.helper.Logger).Scan(context.Background(), device.All, nil) {
		break
	}

	s.Equal(int32(1), adapter.WatchersStopped.Load(), "MUST stop the watcher when the caller stops ranging")
}

func (s *ScannerTestSuite) TestStartFailureYieldsError() {
	adapter := testutils.NewFakeAdapter(s.le1)
	adapter.WatcherStartErr = errors.New("adapter powered off")

	var errs []error
	for _, err := range scanner.NewScanner(adapter, s.helper.Logger).Scan(context.Background(), device.All, nil) {
		errs = append(errs, err)
	}

	s.Require().Len(errs, 1)
	s.ErrorContains(errs[0], "adapter powered off")
	s.Equal(int32(1), adapter.WatchersStopped.Load())
}

func (s *ScannerTestSuite) TestScanIsRestartable() {
	adapter := testutils.NewFakeAdapter(s.le1)
	seq := scanner.NewScanner(adapter, s.helper.Logger).Scan(context.Background(), device.All, nil)

	for i := 0; i < 2; i++ {
		for info, err := range seq {
			s.Require().NoError(err)
			s.Equal("AA:BB:CC:DD:EE:FF", info.Address)
			break
		}
	}

	s.Equal(int32(2), adapter.WatchersCreated.Load(), "each range MUST run its own watcher")
	s.Equal(int32(2), adapter.WatchersStopped.Load())
}

func (s *ScannerTestSuite) TestProgressCallback() {
	adapter := testutils.NewFakeAdapter()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var phases []string
	_, err := scanner.Collect(scanner.NewScanner(adapter, s.helper.Logger).Scan(ctx, device.All, func(phase string) {
		phases = append(phases, phase)
	}))

	s.NoError(err)
	s.Equal([]string{"Scanning", "Stopped"}, phases)
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}

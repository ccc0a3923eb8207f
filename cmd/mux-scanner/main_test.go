package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/mux-scanner/internal/acquire"
	"github.com/sweeney/mux-scanner/internal/adc"
	"github.com/sweeney/mux-scanner/internal/clock"
	"github.com/sweeney/mux-scanner/internal/config"
	"github.com/sweeney/mux-scanner/internal/control"
	"github.com/sweeney/mux-scanner/internal/logic"
	"github.com/sweeney/mux-scanner/internal/mqtt"
	"github.com/sweeney/mux-scanner/internal/mux"
	"github.com/sweeney/mux-scanner/internal/serial"
	"github.com/sweeney/mux-scanner/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":    envNetworkType,
		"NETWORK_IP":      envNetworkIP,
		"NETWORK_STATUS":  envNetworkStatus,
		"NETWORK_GATEWAY": envNetworkGateway,
	}
	for canonical, got := range want {
		assert.Equal(t, canonical, got)
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wlan")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")

	info := readNetworkInfo()
	require.NotNil(t, info)
	assert.Equal(t, status.NetworkInfo{Type: "wlan", IP: "192.168.1.100", Status: "connected", Gateway: "192.168.1.1"}, *info)
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	assert.Nil(t, readNetworkInfo())
}

func TestParseFlagsDefaults(t *testing.T) {
	cfg, opts, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.False(t, opts.printMatrix)
	assert.Empty(t, opts.configPath)
}

func TestParseFlagsOverrides(t *testing.T) {
	cfg, opts, err := parseFlags([]string{
		"--driver", "simulated",
		"--burst", "4",
		"--rescan-every", "3",
		"--settle", "10ms",
		"--serial", "/dev/ttyUSB1",
		"--broker", "tcp://broker:1883",
		"--print-matrix",
	})
	require.NoError(t, err)

	assert.Equal(t, config.DriverSimulated, cfg.ADC.Driver)
	assert.Equal(t, 4, cfg.Filter.BurstSize)
	assert.Equal(t, 3, cfg.Control.RescanEvery)
	assert.Equal(t, 10*time.Millisecond, cfg.Timing.AddressSettle)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Serial.Port)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.True(t, opts.printMatrix)
}

func TestParseFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("filter:\n  burst_size: 12\ncontrol:\n  rescan_every: 9\n"), 0644))

	cfg, opts, err := parseFlags([]string{"--config", path, "--rescan-every", "30"})
	require.NoError(t, err)

	assert.Equal(t, path, opts.configPath)
	assert.Equal(t, 12, cfg.Filter.BurstSize, "file value kept")
	assert.Equal(t, 30, cfg.Control.RescanEvery, "flag wins over file")
}

func TestParseFlagsInvalid(t *testing.T) {
	_, _, err := parseFlags([]string{"--burst", "0"})
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, _, err = parseFlags([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "SIGINT", signalName(syscall.SIGINT))
	assert.Equal(t, "SIGTERM", signalName(syscall.SIGTERM))
	assert.Equal(t, "UNKNOWN", signalName(syscall.SIGHUP))
}

// cancelSink cancels the daemon after a number of lines.
type cancelSink struct {
	*serial.FakeWriter
	after  int
	cancel context.CancelFunc
}

func (s *cancelSink) WriteLine(line string) error {
	err := s.FakeWriter.WriteLine(line)
	if len(s.Lines) == s.after {
		s.cancel()
	}
	return err
}

type daemonHarness struct {
	d       *daemon
	mux     *mux.FakeController
	source  *adc.FakeSource
	sink    *cancelSink
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

func newDaemonHarness(t *testing.T, cancel context.CancelFunc, lines int, levels [logic.Groups]uint16) *daemonHarness {
	t.Helper()
	cfg := config.Default()
	cfg.ADC.Driver = config.DriverSimulated
	cfg.Control.RescanEvery = 2

	sleeper := &clock.FakeSleeper{}
	source := adc.NewFakeSource(adc.ConstantPerGroup(levels))
	h := &daemonHarness{
		mux:     mux.NewFakeController(),
		source:  source,
		sink:    &cancelSink{FakeWriter: serial.NewFakeWriter(), after: lines, cancel: cancel},
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{}),
	}
	h.pub.Connected = true
	h.d = &daemon{
		cfg:        cfg,
		mux:        h.mux,
		reader:     acquire.NewSampler(source, sleeper, cfg.AcquireTiming(), cfg.Filter.BurstSize),
		sink:       h.sink,
		sleeper:    sleeper,
		publisher:  h.pub,
		mqttStatus: h.pub,
		tracker:    h.tracker,
		log:        zap.NewNop(),
	}
	return h
}

func TestDaemonRunEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	levels := [logic.Groups]uint16{700, 650, 300, 800, 900, 720, 610, 500}
	h := newDaemonHarness(t, cancel, 3*logic.ChannelsPerGroup, levels)

	err := h.d.run(ctx, func() string { return "SIGTERM" })
	require.NoError(t, err)

	// Three passes of eight lines, all from group 2 at 300 counts.
	require.Len(t, h.sink.Lines, 24)
	for _, line := range h.sink.Lines {
		assert.Equal(t, "1.465\r\n", line)
	}

	// Initial sweep plus one rescan after the second cycle.
	require.Len(t, h.pub.Calibrations, 2)
	assert.Equal(t, uint8(2), h.pub.Calibrations[0].Selection.Group)
	require.Len(t, h.pub.Reports, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{h.pub.Reports[0].Cycle, h.pub.Reports[1].Cycle, h.pub.Reports[2].Cycle})

	require.Len(t, h.pub.SystemEvents, 2)
	assert.Equal(t, "STARTUP", h.pub.SystemEvents[0].Event)
	assert.True(t, h.pub.SystemEvents[0].Retained)
	assert.Equal(t, "SHUTDOWN", h.pub.SystemEvents[1].Event)
	assert.Equal(t, "SIGTERM", h.pub.SystemEvents[1].Reason)

	var shutdown status.StatusJSON
	require.NoError(t, json.Unmarshal(h.pub.SystemPayloads[1], &shutdown))
	assert.Equal(t, "SHUTDOWN", shutdown.Status.Event)
	assert.Equal(t, 3, shutdown.Status.Cycle)
	assert.True(t, shutdown.Status.MQTT.Connected)

	snap := h.tracker.Snapshot()
	assert.Equal(t, logic.PhaseMonitoring, snap.Phase)
	assert.Equal(t, 2, snap.Sweeps)
	assert.True(t, snap.HasReport)
	assert.True(t, snap.MQTTConnected)
}

func TestDaemonRunWithoutMQTT(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newDaemonHarness(t, cancel, logic.ChannelsPerGroup, [logic.Groups]uint16{9, 8, 7, 6, 5, 4, 3, 2})
	h.d.publisher = nil
	h.d.mqttStatus = nil

	require.NoError(t, h.d.run(ctx, func() string { return "SIGINT" }))
	assert.Len(t, h.sink.Lines, 8)
	assert.Empty(t, h.pub.SystemEvents)
	assert.Equal(t, uint8(7), h.tracker.Snapshot().Selection.Group)
}

func TestDaemonRunPublishErrorsDoNotStopLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newDaemonHarness(t, cancel, 2*logic.ChannelsPerGroup, [logic.Groups]uint16{100, 100, 100, 100, 100, 100, 100, 100})
	h.pub.PublishError = errors.New("broker down")
	h.pub.PublishSystemError = errors.New("broker down")

	require.NoError(t, h.d.run(ctx, func() string { return "SIGINT" }))
	assert.Len(t, h.sink.Lines, 16)
}

func TestPublishHeartbeat(t *testing.T) {
	t.Setenv(envNetworkStatus, "up")
	t.Setenv(envNetworkIP, "10.1.2.3")

	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	tracker := status.NewTracker(time.Now().Add(-time.Hour), status.Config{HeartbeatMs: 60000})

	publishHeartbeat(pub, pub, tracker, zap.NewNop())

	require.Len(t, pub.SystemEvents, 1)
	assert.Equal(t, "HEARTBEAT", pub.SystemEvents[0].Event)
	assert.False(t, pub.SystemEvents[0].Retained)

	var parsed status.StatusJSON
	require.NoError(t, json.Unmarshal(pub.SystemPayloads[0], &parsed))
	assert.Equal(t, "HEARTBEAT", parsed.Status.Event)
	require.NotNil(t, parsed.Status.Network)
	assert.Equal(t, "10.1.2.3", parsed.Status.Network.IP)
	assert.True(t, parsed.Status.MQTT.Connected)
	assert.GreaterOrEqual(t, parsed.Status.UptimeSeconds, int64(3600))
}

func TestHeartbeatLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	pub := mqtt.NewFakePublisher()
	tracker := status.NewTracker(time.Now(), status.Config{})

	done := make(chan struct{})
	go func() {
		heartbeatLoop(ctx, tick, pub, nil, tracker, zap.NewNop())
		close(done)
	}()

	tick <- time.Now()
	tick <- time.Now()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat loop did not stop")
	}
	assert.Len(t, pub.SystemEvents, 2)
}

func TestPrintMatrix(t *testing.T) {
	var m logic.Matrix
	for g := range m {
		for c := range m[g] {
			m[g][c] = uint16(100*(g+1) + c)
		}
	}
	m[4] = [logic.ChannelsPerGroup]uint16{50, 50, 50, 50, 50, 50, 50, 50}
	sweep := control.Sweep{Matrix: m, Averages: logic.Averages(&m), Selection: logic.SelectGroup(&m)}

	var buf bytes.Buffer
	printMatrix(&buf, sweep, logic.DefaultScale)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1+logic.Groups+1)
	assert.Contains(t, lines[0], "ch7")
	assert.True(t, strings.HasPrefix(lines[5], "*   4"), "selected row is marked: %q", lines[5])
	assert.Contains(t, lines[1], "  100   101")
	assert.Equal(t, "selected group 4 (average 50, 0.244 V)", lines[9])
}

func TestParseAddress(t *testing.T) {
	addr, err := parseAddress("3/5")
	require.NoError(t, err)
	assert.Equal(t, logic.Address{Primary: 3, Secondary: 5}, addr)

	for _, bad := range []string{"35", "8/0", "0/8", "a/1", "1/-1"} {
		_, err := parseAddress(bad)
		assert.Error(t, err, bad)
	}
	_, err = parseAddress("9/0")
	assert.ErrorIs(t, err, logic.ErrAddressRange)
}

func TestParseFlagsRead(t *testing.T) {
	_, opts, err := parseFlags([]string{"--read", "7/2"})
	require.NoError(t, err)
	require.NotNil(t, opts.read)
	assert.Equal(t, logic.Address{Primary: 7, Secondary: 2}, *opts.read)

	_, _, err = parseFlags([]string{"--read", "7/9"})
	assert.ErrorIs(t, err, logic.ErrAddressRange)
}

func TestParseFlagsWriteConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "effective.yaml")
	cfg, opts, err := parseFlags([]string{"--write-config", path, "--burst", "12", "--driver", "simulated"})
	require.NoError(t, err)
	assert.Equal(t, path, opts.writeConfig)

	require.NoError(t, cfg.Save(opts.writeConfig))
	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 12, loaded.Filter.BurstSize)
	assert.Equal(t, config.DriverSimulated, loaded.ADC.Driver)
}

func TestReadOne(t *testing.T) {
	ctrl := mux.NewFakeController()
	sleeper := &clock.FakeSleeper{}
	src := adc.NewFakeSource(func(logic.Address, int) uint16 { return 300 })
	sampler := acquire.NewSampler(src, sleeper, acquire.DefaultTiming, acquire.DefaultBurstSize)
	addr := logic.Address{Primary: 3, Secondary: 5}

	var buf bytes.Buffer
	err := readOne(context.Background(), ctrl, sampler, sleeper, control.DefaultAddressSettle, addr, logic.DefaultScale, &buf)
	require.NoError(t, err)

	assert.Equal(t, "3/5 300 1.465 V\n", buf.String())
	assert.Equal(t, []logic.Address{addr}, ctrl.Writes)
	assert.Equal(t, 1, sleeper.Count(control.DefaultAddressSettle))
}

func TestReadOneSelectError(t *testing.T) {
	ctrl := mux.NewFakeController()
	ctrl.SelectError = errors.New("gpio busy")
	src := adc.NewFakeSource(nil)
	sampler := acquire.NewSampler(src, &clock.FakeSleeper{}, acquire.DefaultTiming, acquire.DefaultBurstSize)

	var buf bytes.Buffer
	err := readOne(context.Background(), ctrl, sampler, &clock.FakeSleeper{}, control.DefaultAddressSettle, logic.Address{}, logic.DefaultScale, &buf)
	assert.Error(t, err)
	assert.Zero(t, src.Total)
	assert.Empty(t, buf.String())
}

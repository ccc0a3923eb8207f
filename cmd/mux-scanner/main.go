// Command mux-scanner sweeps 64 multiplexed analog sources, picks the quietest
// group of eight and streams its voltages over a serial line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"

	"github.com/sweeney/mux-scanner/internal/acquire"
	"github.com/sweeney/mux-scanner/internal/adc"
	"github.com/sweeney/mux-scanner/internal/clock"
	"github.com/sweeney/mux-scanner/internal/config"
	"github.com/sweeney/mux-scanner/internal/control"
	"github.com/sweeney/mux-scanner/internal/logger"
	"github.com/sweeney/mux-scanner/internal/logic"
	"github.com/sweeney/mux-scanner/internal/mqtt"
	"github.com/sweeney/mux-scanner/internal/mux"
	"github.com/sweeney/mux-scanner/internal/serial"
	"github.com/sweeney/mux-scanner/internal/status"
	"github.com/sweeney/mux-scanner/internal/web"
)

// options are command-line switches that are not part of the config file.
type options struct {
	configPath  string
	writeConfig string
	printMatrix bool
	listPorts   bool
	read        *logic.Address
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(2)
	}

	if opts.listPorts {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: list ports: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	if opts.writeConfig != "" {
		if err := cfg.Save(opts.writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, opts, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

// parseFlags loads the config file (if any) and applies the flags the user
// actually set on top of it.
func parseFlags(args []string) (*config.Config, options, error) {
	def := config.Default()
	var opts options

	fs := flag.NewFlagSet("mux-scanner", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "YAML config file")
	fs.BoolVar(&opts.printMatrix, "print-matrix", false, "Run one sweep, print the matrix and exit")
	fs.BoolVar(&opts.listPorts, "list-ports", false, "List serial ports and exit")
	fs.StringVar(&opts.writeConfig, "write-config", "", "Write the effective config to this file and exit")
	readAddr := fs.String("read", "", "Read one address (primary/secondary, e.g. 3/5) and exit")

	driver := fs.String("driver", def.ADC.Driver, "Sample source: real or simulated")
	burst := fs.Int("burst", def.Filter.BurstSize, "Samples per burst (1-16)")
	rescan := fs.Int("rescan-every", def.Control.RescanEvery, "Monitor cycles between sweeps")
	settle := fs.Duration("settle", def.Timing.AddressSettle, "Settling delay after each mux write")
	cycleDelay := fs.Duration("cycle-delay", def.Timing.CycleDelay, "Delay after each monitor pass")
	port := fs.String("serial", def.Serial.Port, "Serial port for reports (empty for stdout)")
	baud := fs.Int("baud", def.Serial.Baud, "Serial baud rate")
	broker := fs.String("broker", def.MQTT.Broker, "MQTT broker address (empty to disable)")
	heartbeat := fs.Duration("heartbeat", def.MQTT.Heartbeat, "Heartbeat interval (0 to disable)")
	httpAddr := fs.String("http", def.HTTP.Addr, "HTTP status address (empty to disable)")
	logLevel := fs.String("log-level", def.Log.Level, "Log level")
	logFile := fs.String("log-file", def.Log.File, "Append logs to this file")

	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}
	if *readAddr != "" {
		addr, err := parseAddress(*readAddr)
		if err != nil {
			return nil, opts, err
		}
		opts.read = &addr
	}

	cfg := def
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, opts, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "driver":
			cfg.ADC.Driver = *driver
		case "burst":
			cfg.Filter.BurstSize = *burst
		case "rescan-every":
			cfg.Control.RescanEvery = *rescan
		case "settle":
			cfg.Timing.AddressSettle = *settle
		case "cycle-delay":
			cfg.Timing.CycleDelay = *cycleDelay
		case "serial":
			cfg.Serial.Port = *port
		case "baud":
			cfg.Serial.Baud = *baud
		case "broker":
			cfg.MQTT.Broker = *broker
		case "heartbeat":
			cfg.MQTT.Heartbeat = *heartbeat
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-file":
			cfg.Log.File = *logFile
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, opts, err
	}
	return cfg, opts, nil
}

// hardware holds the collaborators the loop drives.
type hardware struct {
	mux    mux.Controller
	source adc.Source
}

func openHardware(cfg *config.Config) (*hardware, error) {
	if cfg.ADC.Driver == config.DriverSimulated {
		return &hardware{
			mux:    mux.NewSimulated(),
			source: adc.WithTimeout(adc.NewSimulatedSource(adc.DefaultSimulatedConfig()), cfg.ADC.Timeout),
		}, nil
	}

	m, err := mux.NewRealController(cfg.Mux.Chip, cfg.MuxLines())
	if err != nil {
		return nil, fmt.Errorf("init mux: %w", err)
	}
	src, err := adc.NewMCP3008(cfg.ADC.SPIPort, physic.Frequency(cfg.ADC.SpeedHz)*physic.Hertz, cfg.ADC.Input)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("init adc: %w", err)
	}
	return &hardware{mux: m, source: adc.WithTimeout(src, cfg.ADC.Timeout)}, nil
}

func (h *hardware) Close() {
	h.source.Close()
	h.mux.Close()
}

func run(cfg *config.Config, opts options, log *zap.Logger) error {
	hw, err := openHardware(cfg)
	if err != nil {
		return err
	}
	defer hw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	reason := make(chan string, 1)
	go func() {
		select {
		case s := <-sigCh:
			log.Info("received signal, shutting down", zap.Stringer("signal", s))
			reason <- signalName(s)
			cancel()
		case <-ctx.Done():
		}
	}()

	sampler := acquire.NewSampler(hw.source, clock.Real{}, cfg.AcquireTiming(), cfg.Filter.BurstSize)

	// Print matrix mode
	if opts.printMatrix {
		scanner := control.NewScanner(hw.mux, sampler, clock.Real{}, cfg.Timing.AddressSettle, log)
		sweep, err := scanner.Sweep(ctx, &control.State{})
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		printMatrix(os.Stdout, sweep, cfg.ScaleValue())
		return nil
	}

	if opts.read != nil {
		return readOne(ctx, hw.mux, sampler, clock.Real{}, cfg.Timing.AddressSettle, *opts.read, cfg.ScaleValue(), os.Stdout)
	}

	var sink control.Sink = serial.NewWriter(os.Stdout)
	if cfg.Serial.Port != "" {
		p, err := serial.OpenPort(ctx, cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.OpenTimeout, log)
		if err != nil {
			return err
		}
		defer p.Close()
		sink = p
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Driver:       cfg.ADC.Driver,
		BurstSize:    cfg.Filter.BurstSize,
		CycleDelayMs: cfg.Timing.CycleDelay.Milliseconds(),
		RescanEvery:  cfg.Control.RescanEvery,
		HeartbeatMs:  cfg.MQTT.Heartbeat.Milliseconds(),
		SerialPort:   cfg.Serial.Port,
		Broker:       cfg.MQTT.Broker,
		HTTPPort:     cfg.HTTP.Addr,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		p := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, mqtt.NewTopics(cfg.MQTT.TopicPrefix), log)
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("http server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", zap.String("addr", cfg.HTTP.Addr))
	}

	if publisher != nil && cfg.MQTT.Heartbeat > 0 {
		ticker := time.NewTicker(cfg.MQTT.Heartbeat)
		defer ticker.Stop()
		go heartbeatLoop(ctx, ticker.C, publisher, mqttStatus, tracker, log)
	}

	log.Info("started",
		zap.String("driver", cfg.ADC.Driver),
		zap.Int("burst", cfg.Filter.BurstSize),
		zap.Int("rescan_every", cfg.Control.RescanEvery),
		zap.String("serial", cfg.Serial.Port),
		zap.String("broker", cfg.MQTT.Broker))

	d := daemon{
		cfg:        cfg,
		mux:        hw.mux,
		reader:     sampler,
		sink:       sink,
		sleeper:    clock.Real{},
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		log:        log,
	}
	return d.run(ctx, func() string {
		select {
		case r := <-reason:
			return r
		default:
			return "UNKNOWN"
		}
	})
}

// daemon wires the control loop to its observers. publisher and mqttStatus
// may be nil when MQTT is disabled.
type daemon struct {
	cfg        *config.Config
	mux        mux.Controller
	reader     control.Reader
	sink       control.Sink
	sleeper    clock.Sleeper
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	log        *zap.Logger
}

// run publishes STARTUP, runs the loop until ctx ends and publishes SHUTDOWN
// with the reason returned by shutdownReason.
func (d *daemon) run(ctx context.Context, shutdownReason func() string) error {
	scanner := control.NewScanner(d.mux, d.reader, d.sleeper, d.cfg.Timing.AddressSettle, d.log)
	monitor := control.NewMonitor(d.mux, d.reader, d.sleeper, d.cfg.Timing.AddressSettle, d.cfg.ScaleValue(), d.sink, d.log)

	observers := []control.Observer{d.tracker}
	if d.publisher != nil {
		observers = append(observers, mqtt.NewObserver(d.publisher, d.log))
	}
	if d.mqttStatus != nil {
		observers = append(observers, &connectionObserver{conn: d.mqttStatus, tracker: d.tracker})
	}
	loop := control.NewLoop(scanner, monitor, d.sleeper, d.cfg.LoopConfig(), d.log, observers...)

	d.publishSystem("STARTUP", "")

	err := loop.Run(ctx)

	d.publishSystem("SHUTDOWN", shutdownReason())

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// publishSystem sends a retained lifecycle event carrying a status snapshot.
func (d *daemon) publishSystem(event, reason string) {
	if d.publisher == nil {
		return
	}
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
	snap := d.tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := d.publisher.PublishSystem(ev); err != nil {
		d.log.Warn("failed to publish system event", zap.String("event", event), zap.Error(err))
		return
	}
	d.log.Info("published system event", zap.String("event", event))
}

// heartbeatLoop publishes a status snapshot on every tick until ctx ends.
func heartbeatLoop(ctx context.Context, tick <-chan time.Time, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			publishHeartbeat(publisher, mqttStatus, tracker, log)
		}
	}
}

func publishHeartbeat(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, log *zap.Logger) {
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	// Refresh network info for heartbeat
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	snap := tracker.Snapshot()
	log.Info("heartbeat",
		zap.Duration("uptime", snap.Uptime().Truncate(time.Second)),
		zap.Int("cycle", snap.Cycle),
		zap.Int("sweeps", snap.Sweeps),
		zap.Int("failures", snap.Failures))

	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := publisher.PublishSystem(ev); err != nil {
		log.Warn("heartbeat publish error", zap.Error(err))
	}
}

// connectionObserver refreshes the MQTT connection flag after every pass.
type connectionObserver struct {
	control.NopObserver
	conn    mqtt.ConnectionStatus
	tracker *status.Tracker
}

func (o *connectionObserver) ReportCompleted(control.Report) {
	o.tracker.SetMQTTConnected(o.conn.IsConnected())
}

// printMatrix renders a sweep as a table of counts with group averages.
func printMatrix(w io.Writer, s control.Sweep, scale logic.Scale) {
	fmt.Fprintf(w, "group")
	for c := 0; c < logic.ChannelsPerGroup; c++ {
		fmt.Fprintf(w, " %5s", fmt.Sprintf("ch%d", c))
	}
	fmt.Fprintf(w, " %5s\n", "avg")

	for g := 0; g < logic.Groups; g++ {
		mark := " "
		if s.Selection.Valid && int(s.Selection.Group) == g {
			mark = "*"
		}
		fmt.Fprintf(w, "%s%4d", mark, g)
		for c := 0; c < logic.ChannelsPerGroup; c++ {
			fmt.Fprintf(w, " %5d", s.Matrix[g][c])
		}
		fmt.Fprintf(w, " %5d\n", s.Averages[g])
	}

	fmt.Fprintf(w, "selected group %d (average %d, %1.3f V)\n",
		s.Selection.Group, s.Selection.Average, scale.Volts(s.Selection.Average))
}

// parseAddress accepts "primary/secondary", the form Address.String prints.
func parseAddress(s string) (logic.Address, error) {
	primary, secondary, ok := strings.Cut(s, "/")
	if !ok {
		return logic.Address{}, fmt.Errorf("address %q: want primary/secondary", s)
	}
	p, err := strconv.Atoi(strings.TrimSpace(primary))
	if err != nil {
		return logic.Address{}, fmt.Errorf("address %q: %w", s, err)
	}
	c, err := strconv.Atoi(strings.TrimSpace(secondary))
	if err != nil {
		return logic.Address{}, fmt.Errorf("address %q: %w", s, err)
	}
	return logic.NewAddress(p, c)
}

// readOne selects addr, waits for it to settle and prints one aggregated
// reading.
func readOne(ctx context.Context, m mux.Controller, r control.Reader, sleeper clock.Sleeper, settle time.Duration, addr logic.Address, scale logic.Scale, w io.Writer) error {
	if err := m.Select(addr); err != nil {
		return err
	}
	if err := sleeper.Sleep(ctx, settle); err != nil {
		return err
	}
	v, err := r.Read(ctx, addr)
	if err != nil {
		return fmt.Errorf("read %s: %w", addr, err)
	}
	fmt.Fprintf(w, "%s %d %1.3f V\n", addr, v, scale.Volts(v))
	return nil
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType    = "NETWORK_TYPE"
	envNetworkIP      = "NETWORK_IP"
	envNetworkStatus  = "NETWORK_STATUS"
	envNetworkGateway = "NETWORK_GATEWAY"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:    os.Getenv(envNetworkType),
		IP:      os.Getenv(envNetworkIP),
		Status:  s,
		Gateway: os.Getenv(envNetworkGateway),
	}
}

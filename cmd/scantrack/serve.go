package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/scantrack/internal/config"
	"github.com/banshee-data/scantrack/internal/lidar/l1link"
	"github.com/banshee-data/scantrack/internal/lidar/l2frames"
	"github.com/banshee-data/scantrack/internal/lidar/monitor"
	"github.com/banshee-data/scantrack/internal/lidar/pipeline"
	sqlite "github.com/banshee-data/scantrack/internal/lidar/storage/sqlite"
	"github.com/banshee-data/scantrack/internal/lidar/stream"
)

var errNoSource = errors.New("exactly one of --serial, --tcp, --replay or --pcap is required")

type serveOptions struct {
	serialPath     string
	serial         l1link.PortOptions
	tcpAddr        string
	replayPath     string
	pcapPath       string
	pcapPort       int
	replayInterval time.Duration
	exitOnEOF      bool

	configPath    string
	listen        string
	persist       bool
	removedTTL    time.Duration
	interval      time.Duration
	paramsTimeout time.Duration
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tracking pipeline against a sensor or a recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.serialPath, "serial", "", "Serial device of a USB sensor (e.g. /dev/ttyACM0)")
	f.IntVar(&opts.serial.BaudRate, "baud", 115200, "Serial baud rate")
	f.StringVar(&opts.tcpAddr, "tcp", "", "Address of an Ethernet sensor (factory default "+l1link.DefaultTCPAddress+")")
	f.StringVar(&opts.replayPath, "replay", "", "Replay a recorded SCIP session from a text file")
	f.StringVar(&opts.pcapPath, "pcap", "", "Replay the sensor stream from a packet capture")
	f.IntVar(&opts.pcapPort, "pcap-port", l1link.DefaultSensorPort, "Sensor TCP port inside the capture")
	f.DurationVar(&opts.replayInterval, "replay-interval", 25*time.Millisecond, "Delay between replayed responses")
	f.BoolVar(&opts.exitOnEOF, "exit-on-eof", true, "Stop once a replay is exhausted")

	f.StringVar(&opts.configPath, "config", "", "Tuning config JSON (default: built-in defaults)")
	f.StringVar(&opts.listen, "listen", ":8082", "HTTP listen address")
	f.BoolVar(&opts.persist, "persist", true, "Record tracks to the database")
	f.DurationVar(&opts.removedTTL, "removed-ttl", 24*time.Hour, "Prune removed tracks older than this, 0 to keep forever")
	f.DurationVar(&opts.interval, "interval", 25*time.Millisecond, "Pipeline processing interval")
	f.DurationVar(&opts.paramsTimeout, "params-timeout", 2*time.Second, "How long to wait for the sensor specification")
	return cmd
}

// openSource opens the single configured link source. live is true for
// real sensors, which need to be told to start measuring.
func openSource(ctx context.Context, opts serveOptions) (port l1link.Porter, live bool, err error) {
	set := 0
	for _, s := range []string{opts.serialPath, opts.tcpAddr, opts.replayPath, opts.pcapPath} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, false, errNoSource
	}

	switch {
	case opts.serialPath != "":
		p, err := l1link.OpenSerial(opts.serialPath, opts.serial)
		return p, true, err
	case opts.tcpAddr != "":
		c, err := l1link.DialTCP(ctx, opts.tcpAddr, 5*time.Second)
		return c, true, err
	case opts.replayPath != "":
		r, err := l1link.OpenReplay(opts.replayPath, opts.replayInterval)
		return r, false, err
	default:
		r, err := l1link.OpenPCAP(opts.pcapPath, opts.pcapPort, opts.replayInterval)
		return r, false, err
	}
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func runServe(ctx context.Context, opts serveOptions) error {
	tuning, err := loadTuning(opts.configPath)
	if err != nil {
		return err
	}

	port, live, err := openSource(ctx, opts)
	if err != nil {
		return err
	}
	buf := l2frames.NewScanBuffer()
	link := l1link.NewLink(port, buf, nil)
	defer link.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	linkDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(linkDone)
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sensor link stopped: %v", err)
		}
	}()

	if live {
		if err := link.SendCommand(l1link.Simple(l1link.CmdParams)); err != nil {
			return fmt.Errorf("failed to query sensor: %w", err)
		}
		select {
		case <-link.ParamsReported():
			p := link.Params()
			p.ApplyTo(tuning)
			log.Printf("using sensor geometry from %s: %d steps, front %d", p.Model, p.Steps, p.FrontStep)
		case <-time.After(opts.paramsTimeout):
			log.Printf("sensor did not report PP within %s, using configured geometry", opts.paramsTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := link.Initialize(); err != nil {
			return fmt.Errorf("failed to start measurement: %w", err)
		}
		defer func() {
			if err := link.Stop(); err != nil {
				log.Printf("failed to stop measurement: %v", err)
			}
		}()
	}

	var (
		store    *sqlite.Store
		db       *sqlite.DB
		pipeOpts pipeline.Options
	)
	if opts.persist {
		db, err = sqlite.OpenMigrated(flagDB)
		if err != nil {
			return err
		}
		defer db.Close()
		store = sqlite.NewStore(db)
		rec := sqlite.NewRecorder(store)
		rec.RemovedTTL = opts.removedTTL
		pipeOpts.Persistence = rec
	}

	hub := stream.NewHub()
	defer hub.Close()
	pipeOpts.Publish = hub

	p, err := pipeline.New(pipeline.ConfigFromTuning(tuning), pipeOpts)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	unsubscribe := p.Subscribe(hub)
	defer unsubscribe()

	attach := []func(*http.ServeMux){hub.Attach, link.AttachAdminRoutes}
	if db != nil {
		attach = append(attach, func(mux *http.ServeMux) {
			if err := db.AttachAdminRoutes(mux); err != nil {
				log.Printf("database admin routes disabled: %v", err)
			}
		})
	}
	ws := monitor.NewWebServer(monitor.WebServerConfig{
		Address:  opts.listen,
		Pipeline: p,
		Store:    store,
		Tuning:   tuning,
		Attach:   attach,
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ws.Start(ctx); err != nil {
			log.Printf("HTTP server failed: %v", err)
			cancel()
		}
	}()

	if !live && opts.exitOnEOF {
		wg.Add(1)
		go func() {
			defer wg.Done()
			drainReplay(ctx, linkDone, buf, p, opts.interval)
			cancel()
		}()
	}

	runner := &pipeline.Runner{Pipeline: p, Source: buf, Interval: opts.interval}
	runErr := runner.Run(ctx)
	cancel()
	wg.Wait()

	stats := p.Stats()
	log.Printf("processed %d frames (%d skipped), link %+v", stats.Frames, stats.Skipped, link.Stats())
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// drainReplay returns once the link has hit EOF and the pipeline has caught
// up with the last stored frame.
func drainReplay(ctx context.Context, linkDone <-chan struct{}, buf *l2frames.ScanBuffer, p *pipeline.Pipeline, interval time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-linkDone:
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.After(20 * interval)
	for p.Snapshot().Seq < buf.Seq() {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			log.Printf("replay drained with frames still pending")
			return
		case <-ticker.C:
		}
	}
	log.Printf("replay finished")
}

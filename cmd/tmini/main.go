// Command tmini acquires scans from a YDLidar T-mini over a serial port and
// fans them out to the optional sinks: an SQLite recording, a live HTTP/
// websocket visualizer, and a CSV export of the last scan on shutdown. A
// demo mode replays a synthetic sensor so the whole pipeline can run without
// hardware.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/tmini/internal/monitoring"
	"github.com/banshee-data/tmini/internal/scandb"
	"github.com/banshee-data/tmini/internal/tmini"
	"github.com/banshee-data/tmini/internal/version"
	"github.com/banshee-data/tmini/internal/visualizer"
)

var (
	port          = flag.String("port", "/dev/ttyUSB0", "Serial device the lidar is attached to")
	baud          = flag.Int("baud", 230400, "Serial baud rate")
	intensity     = flag.Bool("intensity", true, "Sensor is in intensity mode (3-byte samples)")
	intensityBits = flag.Int("intensity-bits", 8, "Intensity resolution: 8 or 10 bits")
	bufferSize    = flag.Int("buffer", tmini.DefaultScanBufferSize, "Scan hand-off buffer capacity")
	listen        = flag.String("listen", "", "HTTP listen address for the live visualizer (empty: disabled)")
	dbFile        = flag.String("db", "", "Record scans to this SQLite database (empty: disabled)")
	recordPoints  = flag.Bool("record-points", false, "Also record individual points, not just scan summaries")
	notes         = flag.String("notes", "", "Notes to attach to the recording session")
	csvFile       = flag.String("csv", "", "Write the last completed scan to this CSV file on exit")
	duration      = flag.Duration("duration", 0, "Stop after this long (0: run until interrupted)")
	logInterval   = flag.Duration("log-interval", 5*time.Second, "Statistics logging interval")
	demo          = flag.Bool("demo", false, "Run against a simulated sensor instead of real hardware")
	demoDrops     = flag.Bool("demo-drops", false, "Simulate no-return gaps in demo mode")
	debugLog      = flag.Bool("debug", false, "Enable per-packet protocol diagnostics")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()
	monitoring.SetDebug(*debugLog)

	if *showVersion {
		fmt.Printf("tmini %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := run(ctx); err != nil {
		log.Fatalf("tmini: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg := tmini.DriverConfig{
		Port:          *port,
		BaudRate:      *baud,
		HasIntensity:  *intensity,
		IntensityBits: *intensityBits,
		BufferSize:    *bufferSize,
	}

	var sim *tmini.Simulator
	if *demo {
		sim = tmini.NewSimulator(tmini.SimulatorConfig{DropReturns: *demoDrops})
		cfg.Factory = sim.Factory()
		log.Printf("Demo mode: simulated sensor on %s", *port)
	}

	driver, err := tmini.NewDriver(cfg)
	if err != nil {
		return err
	}

	var db *scandb.ScanDB
	var sessionID int64
	if *dbFile != "" {
		db, err = scandb.NewScanDB(*dbFile)
		if err != nil {
			return fmt.Errorf("opening scan database: %w", err)
		}
		defer db.Close()

		sessionID, err = db.StartSession(*port, *notes)
		if err != nil {
			return fmt.Errorf("starting recording session: %w", err)
		}
		defer func() {
			if err := db.EndSession(sessionID); err != nil {
				log.Printf("Failed to close recording session: %v", err)
			}
		}()
		log.Printf("Recording to %s (session %d)", *dbFile, sessionID)
	}

	var viz *visualizer.Server
	if *listen != "" {
		viz = visualizer.NewServer(driver.Stats)
		srv := &http.Server{Addr: *listen, Handler: viz.Handler()}
		go func() {
			log.Printf("Visualizer listening on %s", *listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Visualizer server error: %v", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	return driver.WithConnection(func(d *tmini.Driver) error {
		if err := d.StartScanning(nil); err != nil {
			return err
		}
		if sim != nil {
			sim.Start()
			defer sim.Stop()
		}

		go logStats(ctx, d)

		var lastScan *tmini.LaserScan
		for {
			select {
			case <-ctx.Done():
				if *csvFile != "" && lastScan != nil {
					if err := tmini.ExportScanCSV(lastScan, *csvFile); err != nil {
						log.Printf("CSV export failed: %v", err)
					}
				}
				return d.StopScanning()
			default:
			}

			scan, err := d.GetScan(500 * time.Millisecond)
			if err != nil {
				return err
			}
			if scan == nil {
				continue
			}

			lastScan = scan
			if viz != nil {
				viz.Publish(scan)
			}
			if db != nil {
				if _, err := db.RecordScan(sessionID, scan, *recordPoints); err != nil {
					log.Printf("Failed to record scan: %v", err)
				}
			}
		}
	})
}

// logStats periodically logs acquisition rates computed from successive
// stats snapshots.
func logStats(ctx context.Context, d *tmini.Driver) {
	ticker := time.NewTicker(*logInterval)
	defer ticker.Stop()

	prev := d.Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := d.Stats()
			secs := logInterval.Seconds()
			kbPerSec := float64(cur.Bytes-prev.Bytes) / secs / 1024
			packetsPerSec := float64(cur.Packets-prev.Packets) / secs
			scansPerSec := float64(cur.Scans-prev.Scans) / secs

			if cur.Packets > prev.Packets {
				msg := fmt.Sprintf("Lidar stats (/sec): %.1f KB, %.1f packets, %.1f scans",
					kbPerSec, packetsPerSec, scansPerSec)
				if rejects := cur.Sync.ChecksumRejects - prev.Sync.ChecksumRejects; rejects > 0 {
					msg += fmt.Sprintf(", %d checksum rejects", rejects)
				}
				log.Print(msg)
			} else {
				log.Printf("No packets received in the last %v", *logInterval)
			}
			prev = cur
		}
	}
}

// Package visualizer serves a live view of the lidar over HTTP: JSON
// endpoints for the latest scan and acquisition stats, a rendered scatter
// chart, and a websocket feed pushing each completed scan to connected
// clients.
package visualizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/tmini/internal/monitoring"
	"github.com/banshee-data/tmini/internal/tmini"
)

// scanPayload is the JSON form of a scan sent to HTTP and websocket clients.
type scanPayload struct {
	Timestamp   time.Time   `json:"timestamp"`
	FrequencyHz float64     `json:"frequency_hz"`
	PointCount  int         `json:"point_count"`
	ValidPoints int         `json:"valid_points"`
	Points      []pointJSON `json:"points"`
}

type pointJSON struct {
	AngleDeg  float64 `json:"angle_deg"`
	DistanceM float64 `json:"distance_m"`
	Intensity uint16  `json:"intensity"`
}

func payloadFor(scan *tmini.LaserScan) scanPayload {
	p := scanPayload{
		Timestamp:   scan.Timestamp,
		FrequencyHz: scan.ScanFrequency,
		PointCount:  scan.Len(),
		Points:      make([]pointJSON, 0, scan.Len()),
	}
	for _, pt := range scan.Points {
		if pt.Valid() {
			p.ValidPoints++
		}
		p.Points = append(p.Points, pointJSON{
			AngleDeg:  pt.Angle,
			DistanceM: pt.Distance,
			Intensity: pt.Intensity,
		})
	}
	return p
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local diagnostics tool, no cross-origin concerns
	},
}

// Server publishes scans to HTTP and websocket clients. Publish is called
// from the scan consumer; handlers run on the HTTP server's goroutines.
type Server struct {
	stats func() tmini.StatsSnapshot

	mu     sync.Mutex
	latest *tmini.LaserScan

	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]bool
}

// NewServer creates a visualizer. stats may be nil if acquisition
// diagnostics are not wanted.
func NewServer(stats func() tmini.StatsSnapshot) *Server {
	return &Server{
		stats:     stats,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Publish records scan as the latest and pushes it to websocket clients.
func (s *Server) Publish(scan *tmini.LaserScan) {
	s.mu.Lock()
	s.latest = scan
	s.mu.Unlock()

	s.broadcast(scan)
}

// Latest returns the most recently published scan, or nil.
func (s *Server) Latest() *tmini.LaserScan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

func (s *Server) broadcast(scan *tmini.LaserScan) {
	data, err := json.Marshal(payloadFor(scan))
	if err != nil {
		monitoring.Logf("visualizer: marshal scan: %v", err)
		return
	}

	s.wsMu.Lock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for c := range s.wsClients {
		clients = append(clients, c)
	}
	s.wsMu.Unlock()

	for _, c := range clients {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			s.removeClient(c)
		}
	}
}

func (s *Server) addClient(c *websocket.Conn) {
	s.wsMu.Lock()
	s.wsClients[c] = true
	s.wsMu.Unlock()
}

func (s *Server) removeClient(c *websocket.Conn) {
	s.wsMu.Lock()
	delete(s.wsClients, c)
	s.wsMu.Unlock()
	c.Close()
}

// Handler returns the route table for the visualizer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/latest", s.handleLatest)
	mux.HandleFunc("/scan", s.handleScanChart)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "tmini lidar visualizer",
		"status":  "running",
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	scan := s.Latest()
	if scan == nil {
		s.writeJSONError(w, http.StatusNotFound, "no scans available yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payloadFor(scan))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		s.writeJSONError(w, http.StatusNotFound, "no acquisition stats available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.stats())
}

// handleScanChart renders the latest scan as an XY scatter chart, colour
// mapped by intensity.
func (s *Server) handleScanChart(w http.ResponseWriter, r *http.Request) {
	scan := s.Latest()
	if scan == nil {
		s.writeJSONError(w, http.StatusNotFound, "no scans available yet")
		return
	}

	data := make([]opts.ScatterData, 0, scan.Len())
	maxAbs := 0.0
	maxIntensity := float64(0)
	for _, p := range scan.ValidPoints() {
		x, y := p.Cartesian()
		if math.Abs(x) > maxAbs {
			maxAbs = math.Abs(x)
		}
		if math.Abs(y) > maxAbs {
			maxAbs = math.Abs(y)
		}
		if float64(p.Intensity) > maxIntensity {
			maxIntensity = float64(p.Intensity)
		}
		data = append(data, opts.ScatterData{Value: []interface{}{x, y, p.Intensity}})
	}

	// Pad the axes so edge points stay visible, and keep the plot square so
	// the room geometry is not distorted.
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxIntensity == 0 {
		maxIntensity = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "T-mini Scan", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "T-mini Scan",
			Subtitle: fmt.Sprintf("points=%d freq=%.1fHz %s", scan.Len(), scan.ScanFrequency, scan.Timestamp.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxIntensity),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#31688e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("scan", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("visualizer: websocket upgrade: %v", err)
		return
	}

	s.addClient(conn)
	monitoring.Logf("visualizer: websocket client connected from %s", r.RemoteAddr)

	// Send the current scan immediately so clients render without waiting
	// for the next rotation.
	if scan := s.Latest(); scan != nil {
		if data, err := json.Marshal(payloadFor(scan)); err == nil {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.removeClient(conn)
				return
			}
		}
	}

	// Drain client messages to observe disconnects; the feed is one-way.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.removeClient(conn)
				return
			}
		}
	}()
}

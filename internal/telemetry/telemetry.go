// Package telemetry implements the two outbound telemetry paths of
// spec.md §6: a CRC32-framed byte packet for the ground-link serial
// transmit task, and a WebSocket live-feed broadcaster for ground-ops
// dashboards, adapted from the teacher's internal/livefeed/streamer.go
// client-registry/broadcast pattern.
package telemetry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/corvus-rocketry/avionics-core/internal/estimator"
	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

// Frame is one telemetry snapshot. EncodeWire puts its phase, IMU
// triplet, barometer pair, both pressures and GPS fix on the ground-link
// wire with a trailing CRC32 (spec.md §6); Timestamp and Estimate are not
// encoded there and are carried for the WebSocket live feed.
type Frame struct {
	Timestamp time.Time
	Phase     phase.Phase
	Estimate  estimator.State
	IMU       sensors.AccelGyroMagnetism
	Baro      sensors.Barometer
	OxTankPa  float64
	ChamberPa float64
	GPS       sensors.GPSFix
}

// EncodeWire produces the bit-exact wire layout documented for the
// ground station: a fixed-width binary body (phase as uint8, nine IMU
// float64 fields, two barometer float64 fields, two pressure float64
// fields, a uint16 GPS-raw length prefix followed by the raw NMEA
// bytes) followed by a little-endian CRC32 of everything preceding it.
func EncodeWire(f Frame) []byte {
	body := make([]byte, 0, 1+9*8+2*8+2*8+2+len(f.GPS.Raw))

	body = append(body, byte(f.Phase))

	putFloats := func(vals ...float64) {
		for _, v := range vals {
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			body = append(body, buf[:]...)
		}
	}

	putFloats(
		f.IMU.AccelX, f.IMU.AccelY, f.IMU.AccelZ,
		f.IMU.GyroX, f.IMU.GyroY, f.IMU.GyroZ,
		f.IMU.MagX, f.IMU.MagY, f.IMU.MagZ,
	)
	putFloats(f.Baro.PressurePa, f.Baro.TemperatureC)
	putFloats(f.OxTankPa, f.ChamberPa)

	gpsLen := uint16(len(f.GPS.Raw))
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], gpsLen)
	body = append(body, lenBuf[:]...)
	body = append(body, []byte(f.GPS.Raw)...)

	checksum := crc32.ChecksumIEEE(body)
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], checksum)

	return append(body, crcBuf[:]...)
}

// Transmitter is the ground-link transmit task of spec.md §6: on every
// tick it asks snapshot for the current Frame, encodes it with
// EncodeWire, and writes the wire bytes to the same bidirectional
// ground-link UART that linklayer.CommandIngress reads commands from.
type Transmitter struct {
	w        io.Writer
	interval time.Duration
	snapshot func() Frame
	logger   *logrus.Logger
}

// NewTransmitter creates a ground-link telemetry transmitter. snapshot
// is called fresh on every tick so the frame always reflects the
// latest phase/estimate/sensor state rather than one captured at
// construction time.
func NewTransmitter(w io.Writer, interval time.Duration, snapshot func() Frame, logger *logrus.Logger) *Transmitter {
	return &Transmitter{w: w, interval: interval, snapshot: snapshot, logger: logger}
}

// Run writes an encoded frame every interval until ctx is cancelled. A
// write error is logged and the transmitter keeps ticking rather than
// exiting, since a ground-link dropout is expected to be transient and
// every other task must keep running regardless.
func (t *Transmitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			wire := EncodeWire(t.snapshot())
			if _, err := t.w.Write(wire); err != nil && t.logger != nil {
				t.logger.WithError(err).Warn("ground-link telemetry write failed")
			}
		}
	}
}

// LiveMessage is the JSON shape pushed to WebSocket dashboard clients.
type LiveMessage struct {
	Timestamp    time.Time `json:"timestamp"`
	Phase        string    `json:"phase"`
	AltitudeM    float64   `json:"altitude_m"`
	VelocityMS   float64   `json:"velocity_m_s"`
	Acceleration float64   `json:"acceleration_m_s2"`
	OxTankPa     float64   `json:"ox_tank_pa"`
	ChamberPa    float64   `json:"chamber_pa"`
	GPSFix       string    `json:"gps_fix,omitempty"`
	BlinkCount   int       `json:"blink_count"`
}

// Client is a connected WebSocket dashboard client.
type Client struct {
	conn *websocket.Conn
	send chan *LiveMessage
	id   string
}

// Streamer broadcasts LiveMessage values to every connected client,
// mirroring the teacher's LiveFeedStreamer client-registry/broadcast
// pattern without its clearance-tier filtering (no equivalent access
// model exists for this single-vehicle ground-ops console).
type Streamer struct {
	mu        sync.RWMutex
	clients   map[*Client]bool
	broadcast chan *LiveMessage
	upgrader  websocket.Upgrader
	logger    *logrus.Logger
}

// NewStreamer creates a telemetry streamer.
func NewStreamer(logger *logrus.Logger) *Streamer {
	return &Streamer{
		clients:   make(map[*Client]bool),
		broadcast: make(chan *LiveMessage, 100),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades an HTTP request to a WebSocket dashboard
// connection and begins its read/write pumps.
func (s *Streamer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).Error("failed to upgrade websocket")
		}
		return
	}

	client := &Client{conn: conn, send: make(chan *LiveMessage, 50), id: r.RemoteAddr}
	s.register(client)

	ctx, cancel := context.WithCancel(context.Background())
	go s.writePump(ctx, client)
	go s.readPump(ctx, cancel, client)
}

func (s *Streamer) register(c *Client) {
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
}

func (s *Streamer) unregister(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
}

// Broadcast queues msg for delivery to every connected client,
// dropping the oldest queued message if the broadcast buffer is full.
func (s *Streamer) Broadcast(msg *LiveMessage) {
	select {
	case s.broadcast <- msg:
	default:
		select {
		case <-s.broadcast:
		default:
		}
		s.broadcast <- msg
	}
}

// Run drains the broadcast channel to every client until ctx is
// cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return nil
		case msg := <-s.broadcast:
			s.send(msg)
		}
	}
}

func (s *Streamer) send(msg *LiveMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

func (s *Streamer) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		client.conn.Close()
		close(client.send)
		delete(s.clients, client)
	}
}

func (s *Streamer) writePump(ctx context.Context, c *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Streamer) readPump(ctx context.Context, cancel context.CancelFunc, c *Client) {
	defer func() {
		cancel()
		s.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

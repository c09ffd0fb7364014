package sensor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// GPSDDevice reads fixes from a gpsd daemon. gpsd speaks newline-delimited
// JSON over TCP, so a plain net.Conn plus a json.Decoder covers the whole
// protocol surface we need (WATCH enable, TPV reports).
type GPSDDevice struct {
	addr    string
	timeout time.Duration
}

// NewGPSDDevice points the device at a gpsd instance, normally
// "localhost:2947". dialTimeout guards the initial connection; zero means
// 5 seconds.
func NewGPSDDevice(addr string, dialTimeout time.Duration) *GPSDDevice {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &GPSDDevice{addr: addr, timeout: dialTimeout}
}

// tpvReport is the subset of gpsd's TPV class we consume.
type tpvReport struct {
	Class string  `json:"class"`
	Mode  int     `json:"mode"` // 0/1 = no fix, 2 = 2D, 3 = 3D
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	EPX   float64 `json:"epx"`
	EPY   float64 `json:"epy"`
	Time  string  `json:"time"`
}

// RequestFix implements Device: connects, waits for the first usable TPV
// report, and delivers it. The config's FixTimeout bounds the wait.
func (d *GPSDDevice) RequestFix(cfg Config, fn func(Sample, error)) {
	go func() {
		conn, err := d.dial(cfg)
		if err != nil {
			fn(Sample{}, err)
			return
		}
		defer conn.Close()

		s, err := readFix(conn, cfg)
		fn(s, err)
	}()
}

// WatchPosition implements Device: keeps the connection open and delivers
// every usable TPV report until canceled.
func (d *GPSDDevice) WatchPosition(cfg Config, fn func(Sample, error)) Subscription {
	sub := &gpsdSub{done: make(chan struct{})}

	go func() {
		conn, err := d.dial(cfg)
		if err != nil {
			fn(Sample{}, err)
			return
		}
		defer conn.Close()

		// Unblock the read loop when the subscription is canceled.
		go func() {
			<-sub.done
			_ = conn.Close()
		}()

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			select {
			case <-sub.done:
				return
			default:
			}
			if s, ok := parseTPV(scanner.Bytes()); ok {
				fn(s, nil)
			}
		}

		select {
		case <-sub.done:
			// Canceled; the read error is ours.
		default:
			fn(Sample{}, fmt.Errorf("gpsd stream ended: %v", scanner.Err()))
		}
	}()

	return sub
}

// dial connects to gpsd and enables watch mode.
func (d *GPSDDevice) dial(cfg Config) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", d.addr, d.timeout)
	if err != nil {
		return nil, fmt.Errorf("cannot reach gpsd at %s: %w", d.addr, err)
	}
	if _, err := fmt.Fprintf(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("cannot enable gpsd watch: %w", err)
	}
	return conn, nil
}

// readFix scans the stream for the first usable report.
func readFix(conn net.Conn, cfg Config) (Sample, error) {
	timeout := cfg.FixTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Sample{}, fmt.Errorf("cannot arm fix timeout: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if s, ok := parseTPV(scanner.Bytes()); ok {
			return s, nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Sample{}, fmt.Errorf("fix timed out after %s", timeout)
		}
		return Sample{}, fmt.Errorf("gpsd read failed: %w", err)
	}
	return Sample{}, fmt.Errorf("gpsd stream ended before a fix")
}

// parseTPV extracts a Sample from one gpsd report line, when it is a TPV
// report carrying an actual fix.
func parseTPV(line []byte) (Sample, bool) {
	var tpv tpvReport
	if err := json.Unmarshal(line, &tpv); err != nil {
		return Sample{}, false
	}
	if tpv.Class != "TPV" || tpv.Mode < 2 {
		return Sample{}, false
	}

	s := Sample{
		Latitude:   tpv.Lat,
		Longitude:  tpv.Lon,
		CapturedAt: time.Now().UTC(),
	}
	// gpsd reports per-axis error estimates; take the worse one.
	if tpv.EPX > 0 || tpv.EPY > 0 {
		s.Accuracy = tpv.EPX
		if tpv.EPY > s.Accuracy {
			s.Accuracy = tpv.EPY
		}
	}
	if t, err := time.Parse(time.RFC3339, tpv.Time); err == nil {
		s.CapturedAt = t
	}
	return s, true
}

type gpsdSub struct {
	once sync.Once
	done chan struct{}
}

// Cancel implements Subscription. Safe to call repeatedly.
func (s *gpsdSub) Cancel() {
	s.once.Do(func() { close(s.done) })
}

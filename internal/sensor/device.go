package sensor

import "time"

// Config carries the acquisition options recognized by devices.
type Config struct {
	// HighAccuracy asks the device for its best fix mode (more power,
	// slower first fix).
	HighAccuracy bool

	// FixTimeout is how long a single fix request may take before the
	// device reports failure.
	FixTimeout time.Duration

	// MaxFixAge is the oldest cached fix the device may serve instead of
	// acquiring a fresh one.
	MaxFixAge time.Duration

	// Continuous selects standing-subscription tracking over one-shot
	// fixes in StartTracking.
	Continuous bool
}

// Sample is one successful location fix.
type Sample struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy,omitempty"` // meters, 0 = unknown
	CapturedAt time.Time `json:"captured_at"`
}

// Subscription is a standing continuous-fix delivery. Cancel stops delivery
// and is safe to call any number of times.
type Subscription interface {
	Cancel()
}

// Device is the location-sensor capability.
//
// Both methods are asynchronous: they return immediately and deliver results
// through the callback, one (Sample, nil) or (Sample{}, err) pair per fix
// attempt. A Machine built over a nil Device treats the sensor as absent.
type Device interface {
	// RequestFix acquires one fix and delivers it to fn.
	RequestFix(cfg Config, fn func(Sample, error))

	// WatchPosition opens a standing subscription delivering repeated
	// fixes to fn until the subscription is canceled.
	WatchPosition(cfg Config, fn func(Sample, error)) Subscription
}

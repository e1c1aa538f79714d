// Package hw declares the narrow peripheral boundary the runtime consumes.
// Driver construction (ADC channels, pulse counters, LEDC timers, GPIO) lives
// outside the runtime; implementations are injected per node.
package hw

// Counter is a hardware edge counter.
type Counter interface {
	ReadCounter() (uint32, error)
	ClearCounter() error
}

// Analog is a one-shot ADC channel returning millivolts.
type Analog interface {
	ReadAnalog() (uint16, error)
}

// Digital is a push-pull output pin.
type Digital interface {
	SetDigital(high bool) error
}

// PWM is a square-wave output whose frequency drives a gauge.
type PWM interface {
	SetPWMFrequency(hz uint32) error
}

package resilience

import "time"

// Settings tunes a circuit breaker
type Settings struct {
	Name string
	// Interval clears the closed-state failure counts; zero never clears them
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// UpstreamSettings is the breaker profile for an HTTP dependency. It opens after
// failures consecutive errors and probes again after cooldown.
func UpstreamSettings(name string, failures int, cooldown time.Duration) Settings {
	if failures <= 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return Settings{
		Name:             name,
		Interval:         time.Minute,
		Timeout:          cooldown,
		FailureThreshold: uint32(failures),
		SuccessThreshold: 1,
	}
}

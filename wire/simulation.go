package wire

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulationConfig controls the realism of the simulated radio.
type SimulationConfig struct {
	// Connection timing (in milliseconds)
	MinConnectionDelay    int     // Default: 30ms
	MaxConnectionDelay    int     // Default: 100ms
	ConnectionFailureRate float64 // Default: 0.016 (1.6% failure rate)

	// Radio characteristics
	EnableRSSI   bool // Default: true
	BaseRSSI     int  // Default: -50 dBm (close range)
	RSSIVariance int  // Default: 10 dBm

	// Deterministic mode for testing
	Deterministic bool
	Seed          int64
}

// DefaultSimulationConfig returns realistic BLE simulation parameters.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		MinConnectionDelay:    30,
		MaxConnectionDelay:    100,
		ConnectionFailureRate: 0.016,

		EnableRSSI:   true,
		BaseRSSI:     -50,
		RSSIVariance: 10,
	}
}

// PerfectSimulationConfig returns a 100% reliable config for testing.
func PerfectSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.MinConnectionDelay = 0
	cfg.MaxConnectionDelay = 0
	cfg.ConnectionFailureRate = 0
	cfg.Deterministic = true
	return cfg
}

// Simulator draws connection outcomes and signal strength. Safe for
// concurrent use.
type Simulator struct {
	config *SimulationConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator. nil means DefaultSimulationConfig.
func NewSimulator(config *SimulationConfig) *Simulator {
	if config == nil {
		config = DefaultSimulationConfig()
	}

	seed := time.Now().UnixNano()
	if config.Deterministic {
		seed = config.Seed
	}
	return &Simulator{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// ShouldConnectionSucceed returns true if a connection attempt should succeed.
func (s *Simulator) ShouldConnectionSucceed() bool {
	if s.config.ConnectionFailureRate <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() >= s.config.ConnectionFailureRate
}

// ConnectionDelay returns how long connection establishment takes.
func (s *Simulator) ConnectionDelay() time.Duration {
	if s.config.MaxConnectionDelay <= s.config.MinConnectionDelay {
		return time.Duration(s.config.MinConnectionDelay) * time.Millisecond
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := s.config.MinConnectionDelay +
		s.rng.Intn(s.config.MaxConnectionDelay-s.config.MinConnectionDelay)
	return time.Duration(delay) * time.Millisecond
}

// GenerateRSSI returns an RSSI for a peer at distance meters, clamped to
// -100..-20 dBm.
func (s *Simulator) GenerateRSSI(distance float64) int {
	if !s.config.EnableRSSI {
		return s.config.BaseRSSI
	}
	if distance < 0.1 {
		distance = 0.1
	}

	// ~20dB per 10x distance
	rssi := float64(s.config.BaseRSSI) - 20*math.Log10(distance)

	if s.config.RSSIVariance > 0 {
		s.mu.Lock()
		rssi += float64(s.rng.Intn(s.config.RSSIVariance*2) - s.config.RSSIVariance)
		s.mu.Unlock()
	}

	if rssi < -100 {
		rssi = -100
	} else if rssi > -20 {
		rssi = -20
	}
	return int(rssi)
}

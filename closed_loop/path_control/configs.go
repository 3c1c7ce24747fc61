package control

import (
	"errors"
	"fmt"
	"time"
)

// ReferenceDegree is the degree of the polynomial fitted to the waypoints.
const ReferenceDegree = 3

// Unbounded is the bound magnitude used for state variables.
const Unbounded = 1.0e19

// Weights holds the cost function weights
type Weights struct {
	Cte          float64 `json:"cte"`
	Epsi         float64 `json:"epsi"`
	Speed        float64 `json:"speed"`
	Steer        float64 `json:"steer"`
	Throttle     float64 `json:"throttle"`
	SteerRate    float64 `json:"steer_rate"`
	ThrottleRate float64 `json:"throttle_rate"`
}

// Config holds MPC path-following parameters. It is read-only once a
// Driver or Loop has been built from it.
type Config struct {
	Horizon  int     `json:"horizon"`   // number of timesteps N
	TimeStep float64 `json:"time_step"` // dt between timesteps, s
	Lf       float64 `json:"lf"`        // CoG to front axle, m

	RefSpeed float64 `json:"ref_speed"`
	Latency  float64 `json:"latency_s"` // actuation latency compensated before solving

	SteerLimit    float64 `json:"steer_limit_rad"`
	ThrottleLimit float64 `json:"throttle_limit"`

	SolveBudget time.Duration `json:"solve_budget"`

	Weights Weights `json:"weights"`
}

// ErrInvalidConfig is returned for configurations that cannot build a horizon.
var ErrInvalidConfig = errors.New("invalid mpc config")

// DefaultWeights returns the tuned cost weights.
func DefaultWeights() Weights {
	return Weights{
		Cte:          1,
		Epsi:         1,
		Speed:        1,
		Steer:        1,
		Throttle:     1,
		SteerRate:    1000,
		ThrottleRate: 1,
	}
}

// DefaultConfig returns the configuration tuned for the simulator.
func DefaultConfig() Config {
	return Config{
		Horizon:       20,
		TimeStep:      0.05,
		Lf:            2.67,
		RefSpeed:      50,
		Latency:       0.1,
		SteerLimit:    0.436332,
		ThrottleLimit: 1.0,
		SolveBudget:   500 * time.Millisecond,
		Weights:       DefaultWeights(),
	}
}

// Validate reports the first unusable parameter.
func (c Config) Validate() error {
	switch {
	case c.Horizon < 3:
		return fmt.Errorf("%w: horizon %d, need at least 3 steps", ErrInvalidConfig, c.Horizon)
	case c.TimeStep <= 0:
		return fmt.Errorf("%w: time_step %g", ErrInvalidConfig, c.TimeStep)
	case c.Lf <= 0:
		return fmt.Errorf("%w: lf %g", ErrInvalidConfig, c.Lf)
	case c.Latency < 0:
		return fmt.Errorf("%w: latency %g", ErrInvalidConfig, c.Latency)
	case c.SteerLimit <= 0:
		return fmt.Errorf("%w: steer_limit %g", ErrInvalidConfig, c.SteerLimit)
	case c.ThrottleLimit <= 0:
		return fmt.Errorf("%w: throttle_limit %g", ErrInvalidConfig, c.ThrottleLimit)
	case c.SolveBudget <= 0:
		return fmt.Errorf("%w: solve_budget %v", ErrInvalidConfig, c.SolveBudget)
	}
	return nil
}

// Model returns the vehicle model described by c.
func (c Config) Model() Model {
	return Model{Lf: c.Lf}
}

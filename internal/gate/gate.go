// Package gate limits how many job children run at once.
//
// The System V gate is shared by every process that opens the same key, so
// separate semrun instances pointed at one jobs directory share their slots.
// The local gate only limits the current process.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
)

// Gate kinds reported by Info
const (
	KindSysV  = "sysv"
	KindLocal = "local"
)

// Modes accepted by Open
const (
	ModeAuto  = "auto"
	ModeSysV  = "sysv"
	ModeLocal = "local"
)

// MaxCapacity is SEMVMX, the largest value a System V semaphore holds
const MaxCapacity = 32767

// Gate is a counting semaphore over job slots
type Gate interface {
	// Acquire blocks until a slot is free or ctx is done
	Acquire(ctx context.Context) error
	// TryAcquire takes a slot without blocking
	TryAcquire() bool
	// Release returns a slot taken by Acquire or TryAcquire
	Release() error
	Info() (Info, error)
	// SetCapacity changes the number of slots. Shrinking fails with
	// domain.ErrGateBusy when more than n slots are taken.
	SetCapacity(n int) error
	// Close releases any slots still held by this gate
	Close() error
	// Remove destroys the underlying kernel object, if any
	Remove() error
}

// Info is a point-in-time view of a gate
type Info struct {
	Kind      string `json:"kind"`
	Key       int32  `json:"key,omitempty"`
	ID        int    `json:"id,omitempty"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
	Held      int    `json:"held"`
	Waiters   int    `json:"waiters"`
}

// InUse returns the number of slots taken by all holders
func (i Info) InUse() int {
	return i.Capacity - i.Available
}

// Config selects and sizes a gate
type Config struct {
	Mode     string
	Capacity int

	// Key is an explicit System V key. Zero derives one from KeyFile.
	Key       int32
	KeyFile   string
	ProjectID int
	Perm      int

	// InitTimeout bounds the wait for another process to finish
	// initializing a set it just created
	InitTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.Capacity == 0 {
		c.Capacity = constants.DefaultSlots
	}
	if c.ProjectID == 0 {
		c.ProjectID = constants.DefaultProjectID
	}
	if c.Perm == 0 {
		c.Perm = constants.DefaultGatePerm
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = constants.DefaultGateInitTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ResolveKey returns the explicit key or derives one with Ftok
func (c Config) ResolveKey() (int32, error) {
	if c.Key != 0 {
		return c.Key, nil
	}
	if c.KeyFile == "" {
		return 0, errors.New("gate key file not set")
	}
	proj := c.ProjectID
	if proj == 0 {
		proj = constants.DefaultProjectID
	}
	return Ftok(c.KeyFile, proj)
}

// Open creates or joins a gate according to cfg.Mode. In auto mode a
// platform without System V semaphores falls back to a local gate.
func Open(ctx context.Context, cfg Config) (Gate, error) {
	cfg.applyDefaults()

	if cfg.Capacity < 1 || cfg.Capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: gate capacity must be between 1 and %d, got %d",
			domain.ErrInvalidConfig, MaxCapacity, cfg.Capacity)
	}

	switch cfg.Mode {
	case ModeLocal:
		return NewLocal(cfg.Capacity), nil
	case ModeSysV:
		g, err := OpenSysV(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	case ModeAuto:
		g, err := OpenSysV(ctx, cfg)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, domain.ErrGateUnsupported) {
			return nil, err
		}
		cfg.Logger.Warn("system v semaphores unavailable, limiting this process only",
			"slots", cfg.Capacity, "error", err)
		return NewLocal(cfg.Capacity), nil
	default:
		return nil, fmt.Errorf("%w: unknown gate mode %q", domain.ErrInvalidConfig, cfg.Mode)
	}
}

// Attach opens an existing System V gate for inspection or administration
func Attach(cfg Config) (Gate, error) {
	g, err := AttachSysV(cfg)
	if err != nil {
		return nil, err
	}
	return g, nil
}

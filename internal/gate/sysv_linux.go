//go:build linux && (amd64 || arm64)

package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"golang.org/x/sys/unix"
)

// Values from <sys/ipc.h> and <sys/sem.h>
const (
	ipcCreat  = 0x200
	ipcExcl   = 0x400
	ipcNowait = 0x800
	ipcRmid   = 0
	semUndo   = 0x1000
	getNcnt   = 14
	getVal    = 12
	setVal    = 16
)

// Semaphore numbers within the set
const (
	semSlots    = 0 // free slots
	semCapacity = 1 // configured capacity, 0 while the creator initializes
	semCount    = 2
)

// sembuf mirrors struct sembuf
type sembuf struct {
	num uint16
	op  int16
	flg int16
}

// SysV is a gate backed by a System V semaphore set
type SysV struct {
	key    int32
	id     int
	logger *slog.Logger

	held   atomic.Int64
	closed atomic.Bool
}

// OpenSysV creates the semaphore set for cfg's key or joins an existing one.
// The capacity of an existing set wins over cfg.Capacity.
func OpenSysV(ctx context.Context, cfg Config) (*SysV, error) {
	cfg.applyDefaults()

	key, err := cfg.ResolveKey()
	if err != nil {
		return nil, err
	}

	id, err := semget(key, semCount, ipcCreat|ipcExcl|cfg.Perm)
	switch {
	case err == nil:
		g := &SysV{key: key, id: id, logger: cfg.Logger}
		if err := g.initialize(cfg.Capacity); err != nil {
			_ = semctl(id, 0, ipcRmid, 0)
			return nil, err
		}
		cfg.Logger.Debug("created gate", "key", fmt.Sprintf("0x%08x", uint32(key)), "id", id, "slots", cfg.Capacity)
		return g, nil
	case errors.Is(err, unix.EEXIST):
		return joinSysV(ctx, cfg, key)
	case errors.Is(err, unix.ENOSYS):
		return nil, fmt.Errorf("%w: %w", domain.ErrGateUnsupported, os.NewSyscallError("semget", err))
	default:
		return nil, os.NewSyscallError("semget", err)
	}
}

// AttachSysV opens an existing semaphore set without creating one
func AttachSysV(cfg Config) (*SysV, error) {
	cfg.applyDefaults()

	key, err := cfg.ResolveKey()
	if err != nil {
		return nil, err
	}
	id, err := semget(key, semCount, 0)
	if err != nil {
		if errors.Is(err, unix.ENOSYS) {
			return nil, fmt.Errorf("%w: %w", domain.ErrGateUnsupported, os.NewSyscallError("semget", err))
		}
		return nil, fmt.Errorf("gate 0x%08x: %w", uint32(key), os.NewSyscallError("semget", err))
	}
	return &SysV{key: key, id: id, logger: cfg.Logger}, nil
}

func joinSysV(ctx context.Context, cfg Config, key int32) (*SysV, error) {
	id, err := semget(key, semCount, 0)
	if err != nil {
		return nil, os.NewSyscallError("semget", err)
	}
	g := &SysV{key: key, id: id, logger: cfg.Logger}

	capacity, err := g.waitInitialized(ctx, cfg.InitTimeout)
	if err != nil {
		return nil, err
	}
	if capacity != cfg.Capacity {
		cfg.Logger.Warn("gate already exists with a different capacity, keeping it",
			"key", fmt.Sprintf("0x%08x", uint32(key)), "existing", capacity, "configured", cfg.Capacity)
	}
	cfg.Logger.Debug("joined gate", "key", fmt.Sprintf("0x%08x", uint32(key)), "id", id, "slots", capacity)
	return g, nil
}

// initialize sets the slot count before the capacity so that joiners
// waiting on semCapacity never see a set without slots
func (g *SysV) initialize(capacity int) error {
	if err := semctl(g.id, semSlots, setVal, capacity); err != nil {
		return os.NewSyscallError("semctl", err)
	}
	if err := semctl(g.id, semCapacity, setVal, capacity); err != nil {
		return os.NewSyscallError("semctl", err)
	}
	return nil
}

func (g *SysV) waitInitialized(ctx context.Context, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		v, err := semctlGet(g.id, semCapacity, getVal)
		if err != nil {
			return 0, os.NewSyscallError("semctl", err)
		}
		if v > 0 {
			return v, nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("gate 0x%08x was never initialized by its creator", uint32(g.key))
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Acquire implements Gate. The kernel call blocks in short slices so that
// context cancellation is noticed promptly.
func (g *SysV) Acquire(ctx context.Context) error {
	ops := []sembuf{{num: semSlots, op: -1, flg: semUndo}}

	for {
		if g.closed.Load() {
			return domain.ErrGateClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := constants.GatePollInterval
		if dl, ok := ctx.Deadline(); ok {
			if d := time.Until(dl); d < wait {
				wait = d
			}
			if wait <= 0 {
				return context.DeadlineExceeded
			}
		}

		err := semtimedop(g.id, ops, wait)
		switch {
		case err == nil:
			g.held.Add(1)
			return nil
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EIDRM), errors.Is(err, unix.EINVAL):
			return fmt.Errorf("%w: %w", domain.ErrGateClosed, os.NewSyscallError("semtimedop", err))
		default:
			return os.NewSyscallError("semtimedop", err)
		}
	}
}

// TryAcquire implements Gate
func (g *SysV) TryAcquire() bool {
	if g.closed.Load() {
		return false
	}
	ops := []sembuf{{num: semSlots, op: -1, flg: semUndo | ipcNowait}}
	if err := semop(g.id, ops); err != nil {
		return false
	}
	g.held.Add(1)
	return true
}

// Release implements Gate
func (g *SysV) Release() error {
	for {
		n := g.held.Load()
		if n <= 0 {
			return errors.New("gate release without acquire")
		}
		if g.held.CompareAndSwap(n, n-1) {
			break
		}
	}
	return g.release(1)
}

func (g *SysV) release(n int) error {
	ops := []sembuf{{num: semSlots, op: int16(n), flg: semUndo}}
	for {
		err := semop(g.id, ops)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return os.NewSyscallError("semop", err)
		}
		return nil
	}
}

// Info implements Gate
func (g *SysV) Info() (Info, error) {
	capacity, err := semctlGet(g.id, semCapacity, getVal)
	if err != nil {
		return Info{}, os.NewSyscallError("semctl", err)
	}
	available, err := semctlGet(g.id, semSlots, getVal)
	if err != nil {
		return Info{}, os.NewSyscallError("semctl", err)
	}
	waiters, err := semctlGet(g.id, semSlots, getNcnt)
	if err != nil {
		return Info{}, os.NewSyscallError("semctl", err)
	}
	return Info{
		Kind:      KindSysV,
		Key:       g.key,
		ID:        g.id,
		Capacity:  capacity,
		Available: available,
		Held:      int(g.held.Load()),
		Waiters:   waiters,
	}, nil
}

// SetCapacity implements Gate. Both semaphores move by the same delta in one
// atomic operation, and shrinking never waits for slots to be released.
func (g *SysV) SetCapacity(n int) error {
	if n < 1 || n > MaxCapacity {
		return fmt.Errorf("%w: capacity must be between 1 and %d", domain.ErrInvalidConfig, MaxCapacity)
	}
	current, err := semctlGet(g.id, semCapacity, getVal)
	if err != nil {
		return os.NewSyscallError("semctl", err)
	}
	delta := n - current
	if delta == 0 {
		return nil
	}

	ops := []sembuf{
		{num: semSlots, op: int16(delta), flg: ipcNowait},
		{num: semCapacity, op: int16(delta), flg: ipcNowait},
	}
	if err := semop(g.id, ops); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return fmt.Errorf("%w: cannot shrink to %d", domain.ErrGateBusy, n)
		}
		return os.NewSyscallError("semop", err)
	}
	g.logger.Info("gate capacity changed", "key", fmt.Sprintf("0x%08x", uint32(g.key)), "from", current, "to", n)
	return nil
}

// Close implements Gate. Slots still held are returned; the set stays.
func (g *SysV) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	if n := g.held.Swap(0); n > 0 {
		return g.release(int(n))
	}
	return nil
}

// Remove implements Gate by destroying the semaphore set. Processes blocked
// in Acquire on any instance wake with domain.ErrGateClosed.
func (g *SysV) Remove() error {
	g.closed.Store(true)
	g.held.Store(0)
	if err := semctl(g.id, 0, ipcRmid, 0); err != nil {
		return os.NewSyscallError("semctl", err)
	}
	return nil
}

func semget(key int32, nsems, flags int) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(nsems), uintptr(flags))
	if errno != 0 {
		return -1, errno
	}
	return int(r), nil
}

func semctl(id, num, cmd, arg int) error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), uintptr(num), uintptr(cmd), uintptr(arg), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func semctlGet(id, num, cmd int) (int, error) {
	r, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), uintptr(num), uintptr(cmd), 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

func semop(id int, ops []sembuf) error {
	_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(id), uintptr(unsafe.Pointer(&ops[0])), uintptr(len(ops)))
	if errno != 0 {
		return errno
	}
	return nil
}

func semtimedop(id int, ops []sembuf, timeout time.Duration) error {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	_, _, errno := unix.Syscall6(unix.SYS_SEMTIMEDOP, uintptr(id), uintptr(unsafe.Pointer(&ops[0])), uintptr(len(ops)),
		uintptr(unsafe.Pointer(&ts)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

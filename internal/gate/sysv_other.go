//go:build !linux || !(amd64 || arm64)

package gate

import (
	"context"

	"github.com/charliek/semrun/internal/domain"
)

// SysV is unavailable on this platform
type SysV struct{ Local }

// OpenSysV always fails with domain.ErrGateUnsupported here
func OpenSysV(ctx context.Context, cfg Config) (*SysV, error) {
	return nil, domain.ErrGateUnsupported
}

// AttachSysV always fails with domain.ErrGateUnsupported here
func AttachSysV(cfg Config) (*SysV, error) {
	return nil, domain.ErrGateUnsupported
}

package volume

import "errors"

// Sentinel error kinds, wrapped with context via fmt.Errorf("...: %w", ...).
// They mirror the abstract error taxonomy of the specification rather than
// any single exception hierarchy the original engine used, since the
// original propagates C++ exceptions directly.
var (
	ErrBadInput           = errors.New("jkv: bad input")
	ErrNotFound           = errors.New("jkv: not found")
	ErrDuplicateChild     = errors.New("jkv: duplicate child")
	ErrConstraintViolated = errors.New("jkv: constraint violated")
	ErrCapacity           = errors.New("jkv: capacity exhausted")
	ErrIO                 = errors.New("jkv: io error")
	ErrCorruption         = errors.New("jkv: corruption detected")
)

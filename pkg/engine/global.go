package engine

import "sync"

var (
	globalMu sync.Mutex
	global   *Engine
)

// Init enables the shared engine instance, creating it on first use.
// Subsequent calls reconfigure it in place.
func Init(enable func(*Engine) error) (*Engine, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global == nil {
		global = New()
	}
	if err := enable(global); err != nil {
		return nil, err
	}
	return global, nil
}

// Default returns the shared engine instance, or nil before Init
func Default() *Engine {
	globalMu.Lock()
	defer globalMu.Unlock()
	return global
}

// Shutdown disables the shared engine instance
func Shutdown() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if global != nil {
		global.Disable()
	}
}

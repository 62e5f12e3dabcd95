package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches consulted by the native engines before
// any state transition.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when the named module is administratively
// paused. A nil view or empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

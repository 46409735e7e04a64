package state

import "strings"

var pausePrefix = []byte("module/paused/")

func pauseKey(module string) []byte {
	return append(append([]byte{}, pausePrefix...), strings.ToLower(strings.TrimSpace(module))...)
}

// SetPaused toggles the pause flag for a module.
func (m *Manager) SetPaused(module string, paused bool) error {
	return m.KVPut(pauseKey(module), paused)
}

// IsPaused implements common.PauseView. Read failures report the module as
// paused.
func (m *Manager) IsPaused(module string) bool {
	var paused bool
	ok, err := m.KVGet(pauseKey(module), &paused)
	if err != nil {
		return true
	}
	if !ok {
		return false
	}
	return paused
}

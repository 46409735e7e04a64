package common

import (
	"errors"
	"fmt"
	"strings"
)

// ModuleMarketplace is the pause key checked by every mutating marketplace
// operation.
const ModuleMarketplace = "marketplace"

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return fmt.Errorf("%w: %s", ErrModulePaused, module)
	}
	return nil
}

// StaticPauses is a fixed pause set, typically loaded from configuration.
type StaticPauses map[string]bool

// NewStaticPauses builds a pause set from module names. Names are trimmed and
// lower-cased; empty entries are ignored.
func NewStaticPauses(modules []string) StaticPauses {
	out := make(StaticPauses, len(modules))
	for _, module := range modules {
		normalized := strings.ToLower(strings.TrimSpace(module))
		if normalized == "" {
			continue
		}
		out[normalized] = true
	}
	return out
}

func (s StaticPauses) IsPaused(module string) bool {
	return s[strings.ToLower(strings.TrimSpace(module))]
}

// AnyPaused reports a module paused when any of its views does.
type AnyPaused []PauseView

func (a AnyPaused) IsPaused(module string) bool {
	for _, view := range a {
		if view != nil && view.IsPaused(module) {
			return true
		}
	}
	return false
}

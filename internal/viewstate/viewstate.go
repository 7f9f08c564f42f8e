// Package viewstate tracks which overlay a client has open. Exactly one
// overlay is active at a time; opening another replaces it.
package viewstate

import (
	"fmt"
	"strings"
	"sync"
)

type Overlay int

const (
	None Overlay = iota
	Menu
	Consultations
	Treatment
	Members
	Inventory
)

var overlayNames = [...]string{"none", "menu", "consultations", "treatment", "members", "inventory"}

func (o Overlay) String() string {
	if o < 0 || int(o) >= len(overlayNames) {
		return fmt.Sprintf("overlay(%d)", int(o))
	}
	return overlayNames[o]
}

// ParseOverlay accepts the lower-case wire names. The empty string is None.
func ParseOverlay(s string) (Overlay, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, nil
	}
	for i, name := range overlayNames {
		if name == s {
			return Overlay(i), nil
		}
	}
	return None, fmt.Errorf("viewstate: unknown overlay %q", s)
}

func (o Overlay) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Overlay) UnmarshalText(b []byte) error {
	v, err := ParseOverlay(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Change describes one overlay switch.
type Change struct {
	From, To Overlay
}

func (c Change) Opened(o Overlay) bool { return c.To == o && c.From != o }
func (c Change) Closed(o Overlay) bool { return c.From == o && c.To != o }

// Region holds the active overlay for one client view.
type Region struct {
	mu     sync.Mutex
	active Overlay
}

func (r *Region) Active() Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Open makes o the only active overlay. Opening the active overlay again is
// a no-op and reports ok=false.
func (r *Region) Open(o Overlay) (Change, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == o {
		return Change{From: o, To: o}, false
	}
	c := Change{From: r.active, To: o}
	r.active = o
	return c, true
}

// Toggle opens o, or closes it when it is already open.
func (r *Region) Toggle(o Overlay) Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Change{From: r.active, To: o}
	if r.active == o {
		c.To = None
	}
	r.active = c.To
	return c
}

func (r *Region) Close() (Change, bool) { return r.Open(None) }

package widget

import (
	"errors"
	"sync"
)

// Relay is the production Vendor: the element itself runs in the shopper's
// browser, and its callbacks arrive over HTTP. Deliver feeds those posted
// events into whichever element is currently mounted.
type Relay struct {
	mu      sync.Mutex
	current *relayElement
}

// CreateElement implements Vendor.
func (r *Relay) CreateElement(opts Options, onEvent func(Event)) (Element, error) {
	if onEvent == nil {
		return nil, errors.New("widget: event handler is required")
	}
	return &relayElement{relay: r, onEvent: onEvent}, nil
}

// Deliver routes one browser-posted event to the mounted element. Events
// arriving while nothing is mounted are dropped and reported.
func (r *Relay) Deliver(ev Event) error {
	r.mu.Lock()
	element := r.current
	r.mu.Unlock()
	if element == nil {
		return errors.New("widget: no element mounted")
	}
	element.onEvent(ev)
	return nil
}

type relayElement struct {
	relay   *Relay
	onEvent func(Event)
}

func (e *relayElement) Mount(containerID string) error {
	e.relay.mu.Lock()
	defer e.relay.mu.Unlock()
	e.relay.current = e
	return nil
}

func (e *relayElement) Unmount() error {
	e.relay.mu.Lock()
	defer e.relay.mu.Unlock()
	if e.relay.current == e {
		e.relay.current = nil
	}
	return nil
}

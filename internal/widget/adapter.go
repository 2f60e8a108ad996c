// Package widget wraps the hosted tokenization element behind a small
// adapter. The vendor script owns card and bank entry end to end; raw
// instrument data never reaches this process, only opaque tokens and
// lifecycle events.
package widget

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fwdshop/checkout/internal/payment"
)

// EventKind enumerates the callbacks the vendor element emits.
type EventKind string

const (
	EventReady   EventKind = "ready"
	EventSuccess EventKind = "success"
	EventError   EventKind = "error"
	EventCancel  EventKind = "cancel"
	EventChange  EventKind = "change"
)

// Event is a single vendor callback. Success events carry the token and the
// method type it tokenized; error events carry a message. Vendor-side
// configuration failures arrive here as error events, never as a synchronous
// Configure error.
type Event struct {
	Kind       EventKind          `json:"kind"`
	Token      string             `json:"token,omitempty"`
	MethodType payment.MethodType `json:"method_type,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// Options configures one element instance. APIKey and ClientSecret together
// identify the configuration; re-configuring with the same pair is a no-op.
type Options struct {
	APIKey              string
	ClientSecret        string
	MethodTypes         []payment.MethodType
	ShowLabels          bool
	GooglePayMerchantID string
	ManualBankConfirm   bool
}

// Element is a mounted vendor widget.
type Element interface {
	Mount(containerID string) error
	Unmount() error
}

// Vendor creates elements. The production implementation relays browser
// callbacks; tests script their own.
type Vendor interface {
	CreateElement(opts Options, onEvent func(Event)) (Element, error)
}

// Adapter owns at most one mounted element at a time and guards the vendor's
// lifecycle rules: configure once per (key, secret) pair, unmount at most
// once per mount.
type Adapter struct {
	Vendor Vendor
	Logger zerolog.Logger

	mu      sync.Mutex
	element Element
	mounted bool
	key     string
	secret  string
}

var errNoVendor = errors.New("widget: vendor is not set")

// Configure creates and mounts an element for the given options. Calling it
// again with the same APIKey and ClientSecret while mounted returns nil
// without touching the vendor. A different pair unmounts the old element
// first.
func (a *Adapter) Configure(opts Options, containerID string, onEvent func(Event)) error {
	if a.Vendor == nil {
		return errNoVendor
	}
	if opts.ClientSecret == "" {
		return errors.New("widget: client secret is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mounted && a.key == opts.APIKey && a.secret == opts.ClientSecret {
		a.Logger.Debug().Msg("widget already configured, skipping remount")
		return nil
	}
	a.unmountLocked()

	element, err := a.Vendor.CreateElement(opts, onEvent)
	if err != nil {
		return err
	}
	if err := element.Mount(containerID); err != nil {
		return err
	}
	a.element = element
	a.mounted = true
	a.key = opts.APIKey
	a.secret = opts.ClientSecret
	a.Logger.Debug().Str("container", containerID).Msg("widget mounted")
	return nil
}

// Unmount tears down the current element. It is safe to call when nothing is
// mounted and safe to call repeatedly; the element's own Unmount runs at most
// once per mount.
func (a *Adapter) Unmount() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unmountLocked()
}

// Mounted reports whether an element is currently live.
func (a *Adapter) Mounted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mounted
}

func (a *Adapter) unmountLocked() {
	if !a.mounted {
		return
	}
	if err := a.element.Unmount(); err != nil {
		a.Logger.Warn().Err(err).Msg("widget unmount failed")
	}
	a.element = nil
	a.mounted = false
	a.key = ""
	a.secret = ""
}

package notify

import (
	"sync"

	"github.com/rs/zerolog"
)

// Variant classifies a user-facing notification.
type Variant string

const (
	VariantSuccess     Variant = "success"
	VariantDestructive Variant = "destructive"
	VariantDefault     Variant = "default"
)

// Notice is a single user-facing notification. Messages describe the failed
// operation in general terms and never carry raw backend payloads.
type Notice struct {
	Title       string
	Description string
	Variant     Variant
}

// Notifier surfaces notices to the end user. Implementations must be safe to
// call from handler goroutines.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier writes notices to the structured log. It stands in for the
// storefront's toast presentation, which is outside this service.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(n Notice) {
	evt := l.Logger.Info()
	if n.Variant == VariantDestructive {
		evt = l.Logger.Warn()
	}
	evt.Str("title", n.Title).
		Str("variant", string(n.Variant)).
		Str("description", n.Description).
		Msg("user_notice")
}

// Recorder captures notices for assertions in tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// Notices returns a copy of everything recorded so far.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Failures counts recorded notices with the destructive variant.
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notices {
		if n.Variant == VariantDestructive {
			count++
		}
	}
	return count
}

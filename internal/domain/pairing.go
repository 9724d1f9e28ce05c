package domain

import "fmt"

// PairingState is stored from the point of view of the peer that polls next,
// i.e. the browser that opened the entry page.
type PairingState int

const (
	StateOffline PairingState = iota
	StateAwaitingUpload
	StateAwaitingDownload
)

func (s PairingState) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateAwaitingUpload:
		return "AWAITING_UPLOAD"
	case StateAwaitingDownload:
		return "AWAITING_DOWNLOAD"
	default:
		return fmt.Sprintf("PairingState(%d)", int(s))
	}
}

// Intent is what the initiating peer (the device holding the identifier)
// wants to do.
type Intent string

const (
	IntentUpload   Intent = "upload"
	IntentDownload Intent = "download"
)

func ParseIntent(raw string) (Intent, error) {
	switch Intent(raw) {
	case IntentUpload, IntentDownload:
		return Intent(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIntent, raw)
	}
}

// CounterpartState inverts the intent: a device that wants to download needs
// the browser to upload, and the other way round.
func (i Intent) CounterpartState() PairingState {
	if i == IntentDownload {
		return StateAwaitingUpload
	}
	return StateAwaitingDownload
}

// Directive tells a waiting browser what to do next.
type Directive string

const (
	DirectiveRetry    Directive = "retry"
	DirectiveUpload   Directive = "upload"
	DirectiveDownload Directive = "download"
)

// DirectiveFor reports the directive for an observed state. ok is false while
// the state is still OFFLINE.
func DirectiveFor(s PairingState) (Directive, bool) {
	switch s {
	case StateAwaitingUpload:
		return DirectiveUpload, true
	case StateAwaitingDownload:
		return DirectiveDownload, true
	default:
		return "", false
	}
}

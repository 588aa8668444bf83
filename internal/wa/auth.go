package wa

import (
	"context"

	"github.com/matheus3301/rosterd/internal/bus"
)

// Auth event kinds published while pairing.
const (
	EventQRCode        = "wa.qr_code"
	EventAuthenticated = "wa.authenticated"
	EventAuthFailed    = "wa.auth_failed"
)

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent represents an auth lifecycle event.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

func (a *Adapter) publish(kind string, payload any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(bus.NewEvent(kind, payload))
}

// StartQRAuth connects a device that has no credentials yet and streams the
// pairing flow. The channel closes once pairing succeeds or fails.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)

	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			out <- AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()}
			a.publish(EventAuthFailed, err.Error())
			return
		}

		for item := range qrChan {
			switch item.Event {
			case "code":
				out <- AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}
				a.publish(EventQRCode, item.Code)
			case "success":
				out <- AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}
				a.publish(EventAuthenticated, nil)
				return
			case "timeout":
				out <- AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}
				a.publish(EventAuthFailed, "timeout")
				return
			default:
				if item.Error != nil {
					out <- AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}
					a.publish(EventAuthFailed, item.Error.Error())
					return
				}
			}
		}
	}()

	return out, nil
}

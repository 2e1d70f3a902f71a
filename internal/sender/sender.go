// Package sender delivers rendered content over outbound channels.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spigell/jobhunter/internal/render"
)

// Ack confirms a delivery.
type Ack struct {
	Channel string    `json:"channel"`
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
}

type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// SendError reports a failed delivery. Only transient errors are worth retrying.
type SendError struct {
	Kind    Kind
	Channel string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send via %s: %v", e.Kind, e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

func Transient(channel string, err error) error {
	return &SendError{Kind: KindTransient, Channel: channel, Err: err}
}

func Permanent(channel string, err error) error {
	return &SendError{Kind: KindPermanent, Channel: channel, Err: err}
}

// IsTransient reports whether err is a transient SendError. Deadline and
// cancellation errors count as transient too.
func IsTransient(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind == KindTransient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Channel delivers content to a recipient on one channel.
type Channel interface {
	Send(ctx context.Context, content render.Content, recipient string) (Ack, error)
}

// Mux routes a send to the channel registered under its name.
type Mux struct {
	channels map[string]Channel
}

func NewMux() *Mux {
	return &Mux{channels: map[string]Channel{}}
}

func (m *Mux) Register(name string, ch Channel) {
	m.channels[strings.ToLower(name)] = ch
}

// Has reports whether a channel is registered under name.
func (m *Mux) Has(name string) bool {
	_, ok := m.channels[strings.ToLower(name)]
	return ok
}

func (m *Mux) Names() []string {
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send delivers content through the named channel. An unknown channel is a
// permanent failure; a bare error from a channel is treated as transient.
func (m *Mux) Send(ctx context.Context, channel string, content render.Content, recipient string) (Ack, error) {
	ch, ok := m.channels[strings.ToLower(channel)]
	if !ok {
		return Ack{}, Permanent(channel, fmt.Errorf("channel is not configured"))
	}

	if strings.TrimSpace(recipient) == "" {
		return Ack{}, Permanent(channel, fmt.Errorf("empty recipient"))
	}

	ack, err := ch.Send(ctx, content, recipient)
	if err != nil {
		var se *SendError
		if errors.As(err, &se) {
			return Ack{}, err
		}
		return Ack{}, Transient(channel, err)
	}

	if ack.Channel == "" {
		ack.Channel = channel
	}
	if ack.At.IsZero() {
		ack.At = time.Now()
	}
	return ack, nil
}

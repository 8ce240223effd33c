package notify

import (
	"context"
	"io"
	"os"

	"coachmeet/internal/core/ports"
)

// Func adapts a function to the notifier port.
type Func func(ctx context.Context) error

func (f Func) Notify(ctx context.Context) error {
	return f(ctx)
}

// Bell writes the terminal bell character. It is the synthesized-tone
// fallback when no richer sound backend is wired in.
type Bell struct {
	W io.Writer
}

func NewBell() *Bell {
	return &Bell{W: os.Stdout}
}

func (b *Bell) Notify(ctx context.Context) error {
	w := b.W
	if w == nil {
		w = os.Stdout
	}
	_, err := w.Write([]byte{'\a'})
	return err
}

// Noop swallows notifications.
type Noop struct{}

func (Noop) Notify(ctx context.Context) error { return nil }

var _ ports.Notifier = Func(nil)
var _ ports.Notifier = (*Bell)(nil)
var _ ports.Notifier = Noop{}

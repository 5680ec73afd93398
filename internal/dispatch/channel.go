package dispatch

import (
	"context"
	"errors"

	"github.com/bisheshkhanal/ragebaiter/internal/pipeline"
)

var ErrQueueFull = errors.New("intervention queue is full")

// Channel hands interventions to a consumer over a buffered channel. Dispatch
// never blocks: a full buffer is reported as ErrQueueFull.
type Channel struct {
	ch chan pipeline.Intervention
}

func NewChannel(buffer int) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{ch: make(chan pipeline.Intervention, buffer)}
}

func (c *Channel) Dispatch(ctx context.Context, iv pipeline.Intervention) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case c.ch <- iv:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *Channel) Interventions() <-chan pipeline.Intervention {
	return c.ch
}

// Close ends the stream. Dispatch must not be called afterwards.
func (c *Channel) Close() {
	close(c.ch)
}

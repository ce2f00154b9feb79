package client

import (
	"context"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tvalice/tvroll/pkg/events"
)

// Watch streams daemon events until ctx is done or the daemon goes away.
// The returned channel is closed then.
func (c *Client) Watch(ctx context.Context) (<-chan events.Event, error) {
	dialer := websocket.Dialer{NetDialContext: dialSocket(c.socketPath)}
	conn, _, err := dialer.DialContext(ctx, "ws://unix/ws", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to subscribe to events")
	}

	out := make(chan events.Event, 16)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		for {
			var ev events.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					logrus.WithError(err).Debug("event stream ended")
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

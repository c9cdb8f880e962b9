package client

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/pkg/api"
)

// eventBuffer bounds undelivered events before the stream is torn down; the
// worker evicts subscribers that fall behind anyway, so a large buffer only
// delays the inevitable.
const eventBuffer = 256

// Watch subscribes to the worker's aggregated event stream, optionally
// filtered to one participant (empty participantId streams everything). The
// channel closes when the connection ends; calling stop also closes it.
func (c *Client) Watch(ctx context.Context, participantId string) (<-chan api.Event, func(), error) {
	endpoint, err := eventSocketUrl(c.baseUrl, participantId)
	if err != nil {
		return nil, nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, nil, errors.WithStack(&simerrors.ErrUnreachable{Endpoint: c.baseUrl, Message: err.Error()})
	}

	conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
	conn.SetPingHandler(func(message string) error {
		conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(sessionWriteTimeout))
	})

	events := make(chan api.Event, eventBuffer)
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var event api.Event
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	}
	return events, stop, nil
}

func eventSocketUrl(baseUrl, participantId string) (string, error) {
	target, err := url.Parse(strings.TrimSuffix(baseUrl, "/"))
	if err != nil {
		return "", errors.WithStack(&simerrors.ErrInvalidArgument{Name: "worker", Value: baseUrl, Message: err.Error()})
	}
	switch target.Scheme {
	case "https", "wss":
		target.Scheme = "wss"
	case "http", "ws":
		target.Scheme = "ws"
	default:
		return "", errors.WithStack(&simerrors.ErrInvalidArgument{
			Name: "worker", Value: baseUrl, Message: "the worker endpoint must be http(s) or ws(s)",
		})
	}
	target.Path = strings.TrimSuffix(target.Path, "/") + "/api/v1/events"
	if participantId != "" {
		query := target.Query()
		query.Set("participant", participantId)
		target.RawQuery = query.Encode()
	}
	return target.String(), nil
}

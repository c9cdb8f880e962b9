package client

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/pkg/api"
)

const (
	sessionWriteTimeout = 10 * time.Second
	sessionPingInterval = 20 * time.Second
	sessionReadTimeout  = 60 * time.Second

	// sessionBuffer bounds undelivered responses; state snapshots beyond it
	// overwrite older ones rather than blocking the connection.
	sessionBuffer = 64
)

// Session is one participant held open over a worker websocket connection.
// The participant lives as long as the session: closing it, or losing the
// connection, closes the participant on the worker.
type Session struct {
	workerUrl string
	conn      *websocket.Conn

	writeMu sync.Mutex
	updates chan api.WorkerResponse
	done    chan struct{}

	closeOnce sync.Once
}

// Dial connects to the worker endpoint and spawns the participant described
// by spec. The returned session streams the participant's state snapshots
// and log lines.
func Dial(ctx context.Context, workerUrl string, spec api.ParticipantSpec) (*Session, error) {
	endpoint, err := workerSocketUrl(workerUrl, spec)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, errors.WithStack(&simerrors.ErrUnreachable{Endpoint: workerUrl, Message: err.Error()})
	}

	s := &Session{
		workerUrl: workerUrl,
		conn:      conn,
		updates:   make(chan api.WorkerResponse, sessionBuffer),
		done:      make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
	conn.SetPingHandler(func(message string) error {
		conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(sessionWriteTimeout))
	})
	go s.readPump()
	go s.pingLoop()
	return s, nil
}

// Send delivers a command to the session's participant.
func (s *Session) Send(cmd api.Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
	if err := s.conn.WriteJSON(cmd); err != nil {
		return errors.WithStack(&simerrors.ErrUnreachable{Endpoint: s.workerUrl, Message: err.Error()})
	}
	return nil
}

// Updates yields the worker's pushes in arrival order. The channel closes
// when the connection ends.
func (s *Session) Updates() <-chan api.WorkerResponse {
	return s.updates
}

// Done closes when the connection has ended for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close ends the session, which closes the participant on the worker. Safe
// to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	return nil
}

func (s *Session) readPump() {
	defer close(s.done)
	defer close(s.updates)
	for {
		var response api.WorkerResponse
		if err := s.conn.ReadJSON(&response); err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(sessionReadTimeout))
		select {
		case s.updates <- response:
		default:
			// The consumer fell behind; drop the oldest update to keep the
			// newest state visible.
			select {
			case dropped := <-s.updates:
				log.Debugf("Dropped a stale worker update of kind %s", updateKind(dropped))
			default:
			}
			select {
			case s.updates <- response:
			default:
			}
		}
	}
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(sessionPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(sessionWriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// workerSocketUrl converts a worker's HTTP endpoint into its websocket URL
// with the spec packed into the payload parameter.
func workerSocketUrl(workerUrl string, spec api.ParticipantSpec) (string, error) {
	target, err := url.Parse(strings.TrimSuffix(workerUrl, "/"))
	if err != nil {
		return "", errors.WithStack(&simerrors.ErrInvalidArgument{Name: "worker", Value: workerUrl, Message: err.Error()})
	}
	switch target.Scheme {
	case "https", "wss":
		target.Scheme = "wss"
	case "http", "ws":
		target.Scheme = "ws"
	default:
		return "", errors.WithStack(&simerrors.ErrInvalidArgument{
			Name: "worker", Value: workerUrl, Message: "the worker endpoint must be http(s) or ws(s)",
		})
	}
	if target.Path == "" {
		target.Path = "/"
	}

	payload, err := api.EncodeSpecPayload(spec)
	if err != nil {
		return "", err
	}
	query := target.Query()
	query.Set("payload", payload)
	target.RawQuery = query.Encode()
	return target.String(), nil
}

func updateKind(response api.WorkerResponse) string {
	switch {
	case response.State != nil:
		return "state"
	case response.Log != nil:
		return "log"
	default:
		return "error"
	}
}

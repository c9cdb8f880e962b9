package protocol

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
	"github.com/hypervideo/client-simulator/internal/simulator/credentials"
	"github.com/hypervideo/client-simulator/pkg/api"
)

const (
	DefaultHeartbeatInterval = 20 * time.Second

	writeTimeout = 10 * time.Second

	// repliesBuffer bounds unread server messages. The owning actor issues
	// one request at a time, so this only needs to absorb stray messages
	// arriving between requests.
	repliesBuffer = 16
)

// Strategy takes part in a session over a persistent signalling connection,
// replaying the handshake, join and media-negotiation messages the real
// frontend would send. No rendering surface is involved, so joins are fast
// and cheap, but UI-only features (background blur, noise suppression
// models) are out of reach.
//
// The owning actor serializes all calls; only the read pump and the
// heartbeat ticker run concurrently with them, and both confine themselves
// to the connection and the replies channel.
type Strategy struct {
	spaceUrl  string
	heartbeat time.Duration
	dialer    *websocket.Dialer

	conn    *websocket.Conn
	writeMu sync.Mutex
	replies chan serverMessage
	done    chan struct{}

	closeOnce sync.Once
	readErr   error
}

// New returns a strategy joining the space at spaceUrl. The connection is
// established by Authenticate. A zero heartbeat means
// DefaultHeartbeatInterval.
func New(spaceUrl string, heartbeat time.Duration) *Strategy {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatInterval
	}
	return &Strategy{
		spaceUrl:  spaceUrl,
		heartbeat: heartbeat,
		dialer:    websocket.DefaultDialer,
	}
}

// Authenticate dials the signalling endpoint and performs the hello/welcome
// handshake carrying the session token. A rejected token surfaces as a
// credential error so the actor fails without a join attempt.
func (s *Strategy) Authenticate(ctx context.Context, credential *credentials.Credential) error {
	if credential == nil {
		return errors.WithStack(&simerrors.ErrInternal{Message: "authenticate called without a credential"})
	}
	if s.conn != nil {
		return errors.WithStack(&simerrors.ErrInternal{Message: "signalling connection is already established"})
	}

	endpoint, err := SignallingUrl(s.spaceUrl)
	if err != nil {
		return err
	}

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return errors.WithStack(&simerrors.ErrUnreachable{Endpoint: endpoint, Message: err.Error()})
	}
	s.conn = conn
	s.replies = make(chan serverMessage, repliesBuffer)
	s.done = make(chan struct{})

	conn.SetReadDeadline(time.Now().Add(3 * s.heartbeat))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(3 * s.heartbeat))
	})
	go s.readPump()
	go s.heartbeatLoop()

	if err := s.send(clientMessage{Type: typeHello, Token: credential.SessionCookie}); err != nil {
		return err
	}
	reply, err := s.await(ctx, "hello handshake", typeWelcome)
	if err != nil {
		var timeout *simerrors.ErrTimeout
		var unreachable *simerrors.ErrUnreachable
		if errors.As(err, &timeout) || errors.As(err, &unreachable) {
			return err
		}
		return errors.WithStack(&simerrors.ErrCredential{Username: credential.Username, Message: err.Error()})
	}
	log.Debugf("Signalling session %s established for %s", reply.SessionId, credential.Username)
	return nil
}

// Join announces the participant to the space with its initial media state.
func (s *Strategy) Join(ctx context.Context, spec api.ParticipantSpec) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	settings := spec.Settings.WithDefaults()
	if err := s.send(clientMessage{
		Type:        typeJoin,
		Username:    spec.Username,
		Audio:       boolPtr(settings.Audio),
		Video:       boolPtr(settings.Video),
		Screenshare: boolPtr(settings.Screenshare),
		Transport:   string(settings.Transport),
	}); err != nil {
		return err
	}
	reply, err := s.await(ctx, "join handshake", typeJoined)
	if err != nil {
		return err
	}
	log.Infof("Participant %s joined the space as %s", spec.Username, reply.ParticipantId)
	return nil
}

func (s *Strategy) Leave(ctx context.Context) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	if err := s.send(clientMessage{Type: typeLeave}); err != nil {
		return err
	}
	_, err := s.await(ctx, "leave", typeAck)
	return err
}

func (s *Strategy) SetAudio(ctx context.Context, enabled bool) error {
	return s.setMedia(ctx, kindAudio, enabled)
}

func (s *Strategy) SetVideo(ctx context.Context, enabled bool) error {
	return s.setMedia(ctx, kindVideo, enabled)
}

func (s *Strategy) SetScreenshare(ctx context.Context, enabled bool) error {
	return s.setMedia(ctx, kindScreenshare, enabled)
}

// SetNoiseSuppression accepts only the none level. The suppression models
// run inside the frontend, which a protocol participant does not have.
func (s *Strategy) SetNoiseSuppression(ctx context.Context, level api.NoiseSuppression) error {
	if level == api.NoiseSuppressionNone {
		return nil
	}
	return errors.WithStack(&simerrors.ErrInvalidState{
		Command: string(api.CommandSetNoiseSuppression),
		Message: "noise suppression models require the full-surface strategy",
	})
}

func (s *Strategy) SetResolution(ctx context.Context, resolution api.Resolution) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	if err := s.send(clientMessage{Type: typeSet, Name: settingResolution, Value: string(resolution)}); err != nil {
		return err
	}
	_, err := s.await(ctx, "set resolution", typeAck)
	return err
}

// SetBackgroundBlur always fails: blur is applied by the frontend to the
// local camera feed, which a protocol participant does not produce.
func (s *Strategy) SetBackgroundBlur(ctx context.Context, enabled bool) error {
	return errors.WithStack(&simerrors.ErrInvalidState{
		Command: string(api.CommandToggleBackgroundBlur),
		Message: "background blur requires the full-surface strategy",
	})
}

// Close sends a best-effort bye and releases the connection. Safe to call
// repeatedly and before Authenticate.
func (s *Strategy) Close(ctx context.Context) error {
	conn := s.conn
	if conn == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		_ = s.send(clientMessage{Type: typeBye})
		s.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		_ = conn.Close()
	})
	return nil
}

func (s *Strategy) setMedia(ctx context.Context, kind string, enabled bool) error {
	if err := s.requireConnection(); err != nil {
		return err
	}
	if err := s.send(clientMessage{Type: typeMedia, Kind: kind, Enabled: boolPtr(enabled)}); err != nil {
		return err
	}
	_, err := s.await(ctx, "toggle "+kind, typeAck)
	return err
}

func (s *Strategy) send(message clientMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(message); err != nil {
		return errors.WithStack(&simerrors.ErrUnreachable{Endpoint: s.spaceUrl, Message: err.Error()})
	}
	return nil
}

// await reads server messages until one of the wanted type arrives. Error
// messages from the backend and a lost connection end the wait early; so
// does ctx, which turns into a timeout error carrying op.
func (s *Strategy) await(ctx context.Context, op string, wanted string) (serverMessage, error) {
	started := time.Now()
	for {
		select {
		case reply, ok := <-s.replies:
			if !ok {
				return serverMessage{}, errors.WithStack(&simerrors.ErrUnreachable{
					Endpoint: s.spaceUrl, Message: s.readErrMessage(),
				})
			}
			switch reply.Type {
			case wanted:
				return reply, nil
			case typeError:
				return serverMessage{}, errors.Errorf("backend rejected %s: %s", op, reply.Error)
			default:
				// Unsolicited message, e.g. a roster update. Not ours.
			}
		case <-s.done:
			return serverMessage{}, errors.WithStack(&simerrors.ErrUnreachable{
				Endpoint: s.spaceUrl, Message: s.readErrMessage(),
			})
		case <-ctx.Done():
			return serverMessage{}, errors.WithStack(&simerrors.ErrTimeout{Op: op, Timeout: time.Since(started)})
		}
	}
}

func (s *Strategy) readPump() {
	defer close(s.done)
	defer close(s.replies)
	for {
		var message serverMessage
		if err := s.conn.ReadJSON(&message); err != nil {
			s.readErr = err
			return
		}
		select {
		case s.replies <- message:
		default:
			log.Warnf("Discarding signalling message of type %s, nobody is waiting for it", message.Type)
		}
	}
}

func (s *Strategy) heartbeatLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Strategy) requireConnection() error {
	if s.conn == nil {
		return errors.WithStack(&simerrors.ErrInternal{Message: "no signalling connection is established"})
	}
	return nil
}

func (s *Strategy) readErrMessage() string {
	if s.readErr != nil {
		return s.readErr.Error()
	}
	return "signalling connection is closed"
}

// SignallingUrl converts a space page URL into the websocket endpoint of
// its signalling channel.
func SignallingUrl(spaceUrl string) (string, error) {
	target, err := url.Parse(spaceUrl)
	if err != nil {
		return "", errors.WithStack(&simerrors.ErrInvalidArgument{Name: "spaceUrl", Value: spaceUrl, Message: err.Error()})
	}
	switch target.Scheme {
	case "https", "wss":
		target.Scheme = "wss"
	case "http", "ws":
		target.Scheme = "ws"
	default:
		return "", errors.WithStack(&simerrors.ErrInvalidArgument{
			Name: "spaceUrl", Value: spaceUrl, Message: "the space URL must be http(s) or ws(s)",
		})
	}
	target.Path = strings.TrimSuffix(target.Path, "/") + "/signaling"
	return target.String(), nil
}

func boolPtr(v bool) *bool {
	return &v
}

package surface

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/simulator/credentials"
	"github.com/hypervideo/client-simulator/pkg/api"
)

const (
	// DefaultAttempts bounds surface creation and each element wait.
	DefaultAttempts = 5

	// elementTimeout is how long a single element wait may take.
	elementTimeout = 30 * time.Second

	createRetryDelay = 500 * time.Millisecond
)

// Strategy takes part in a session by steering a full rendering surface the
// way a human user would: the space page is loaded with the credential
// cookie installed, the participant name is typed into the join form, and
// media is driven through the frontend's own buttons and settings store.
//
// The owning actor serializes all calls, so the strategy holds no locks.
type Strategy struct {
	factory  Factory
	attempts uint

	driver     Driver
	credential *credentials.Credential
	username   string
}

// New returns a strategy that launches its rendering surface through
// factory on first use. attempts bounds surface creation as well as each
// element wait; zero means DefaultAttempts.
func New(factory Factory, attempts uint) *Strategy {
	if attempts == 0 {
		attempts = DefaultAttempts
	}
	return &Strategy{factory: factory, attempts: attempts}
}

// Authenticate retains the credential for cookie injection at join time.
// The surface itself only contacts the service once Join navigates to the
// space.
func (s *Strategy) Authenticate(_ context.Context, credential *credentials.Credential) error {
	if credential == nil {
		return errors.WithStack(&simerrors.ErrInternal{Message: "authenticate called without a credential"})
	}
	s.credential = credential
	return nil
}

// Join loads the space page with the session cookie installed, fills in the
// join form, applies the media settings and enters the call. Settings are
// applied in the lobby before the join click; screen sharing can only start
// once inside the call. A settings failure is logged and the join
// continues.
func (s *Strategy) Join(ctx context.Context, spec api.ParticipantSpec) error {
	if s.credential == nil {
		return errors.WithStack(&simerrors.ErrInternal{Message: "join attempted without a session credential"})
	}
	target, err := url.Parse(spec.SpaceUrl)
	if err != nil {
		return errors.WithStack(&simerrors.ErrInvalidArgument{Name: "spaceUrl", Value: spec.SpaceUrl, Message: err.Error()})
	}
	s.username = spec.Username
	settings := spec.Settings.WithDefaults()

	driver, err := s.ensureDriver(ctx, Options{Headless: settings.Headless, FakeMedia: settings.FakeMedia})
	if err != nil {
		return err
	}

	cookie := Cookie{
		Name:   credentials.SessionCookieName,
		Value:  s.credential.SessionCookie,
		Domain: target.Hostname(),
	}
	if err := driver.SetCookie(ctx, cookie); err != nil {
		return errors.Wrap(err, "failed to install the session cookie")
	}
	if err := driver.Navigate(ctx, spec.SpaceUrl); err != nil {
		return errors.WithStack(&simerrors.ErrUnreachable{Endpoint: spec.SpaceUrl, Message: err.Error()})
	}
	if err := s.waitFor(ctx, nameInput); err != nil {
		return err
	}
	if err := driver.Type(ctx, nameInput, spec.Username); err != nil {
		return errors.Wrap(err, "failed to fill in the participant name")
	}
	if err := s.waitFor(ctx, joinButton); err != nil {
		return err
	}
	if err := s.applyLobbySettings(ctx, settings); err != nil {
		log.WithError(err).Errorf("Failed to apply settings before joining as %s", spec.Username)
	}
	if err := driver.Click(ctx, joinButton); err != nil {
		return errors.Wrap(err, "failed to click the join button")
	}
	if err := s.waitFor(ctx, leaveButton); err != nil {
		return err
	}
	if settings.Screenshare {
		if err := s.setToggle(ctx, screenshareToggle, true); err != nil {
			log.WithError(err).Errorf("Failed to start screen sharing after joining as %s", spec.Username)
		}
	}
	log.Infof("Participant %s joined the space", spec.Username)
	return nil
}

// Leave clicks the in-call leave button. The surface stays up so the
// participant could join again.
func (s *Strategy) Leave(ctx context.Context) error {
	if err := s.requireSurface(); err != nil {
		return err
	}
	if err := s.driver.Click(ctx, leaveButton); err != nil {
		return errors.Wrap(err, "failed to click the leave button")
	}
	log.Infof("Participant %s left the space", s.username)
	return nil
}

func (s *Strategy) SetAudio(ctx context.Context, enabled bool) error {
	if err := s.requireSurface(); err != nil {
		return err
	}
	return s.setToggle(ctx, audioToggle, enabled)
}

func (s *Strategy) SetVideo(ctx context.Context, enabled bool) error {
	if err := s.requireSurface(); err != nil {
		return err
	}
	return s.setToggle(ctx, videoToggle, enabled)
}

func (s *Strategy) SetScreenshare(ctx context.Context, enabled bool) error {
	if err := s.requireSurface(); err != nil {
		return err
	}
	return s.setToggle(ctx, screenshareToggle, enabled)
}

func (s *Strategy) SetNoiseSuppression(ctx context.Context, level api.NoiseSuppression) error {
	if err := s.requireSurface(); err != nil {
		return err
	}
	if err := s.evaluate(ctx, setNoiseSuppressionScript, string(level)); err != nil {
		return errors.Wrap(err, "failed to set noise suppression")
	}
	return nil
}

func (s *Strategy) SetResolution(ctx context.Context, resolution api.Resolution) error {
	if err := s.requireSurface(); err != nil {
		return err
	}
	if err := s.evaluate(ctx, setResolutionScript, string(resolution)); err != nil {
		return errors.Wrap(err, "failed to set the webcam resolution")
	}
	return nil
}

func (s *Strategy) SetBackgroundBlur(ctx context.Context, enabled bool) error {
	if err := s.requireSurface(); err != nil {
		return err
	}
	if err := s.evaluate(ctx, setBackgroundBlurScript, enabled); err != nil {
		return errors.Wrap(err, "failed to set background blur")
	}
	return nil
}

// Close tears the rendering surface down. Safe to call repeatedly and
// after failures.
func (s *Strategy) Close(ctx context.Context) error {
	driver := s.driver
	s.driver = nil
	if driver == nil {
		return nil
	}
	if err := driver.Close(ctx); err != nil {
		return errors.Wrap(err, "failed to close the rendering surface")
	}
	return nil
}

// ensureDriver launches the rendering surface on first use, retried with
// backoff up to the configured attempts.
func (s *Strategy) ensureDriver(ctx context.Context, opts Options) (Driver, error) {
	if s.driver != nil {
		return s.driver, nil
	}
	var driver Driver
	err := retry.Do(
		func() error {
			var err error
			driver, err = s.factory(ctx, opts)
			return err
		},
		retry.Attempts(s.attempts),
		retry.Delay(createRetryDelay),
		retry.OnRetry(func(_ uint, err error) {
			log.WithError(err).Warnf("Failed to launch a rendering surface for %s, retrying", s.username)
		}),
		retry.RetryIf(func(err error) bool { return ctx.Err() == nil }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to launch a rendering surface")
	}
	s.driver = driver
	return driver, nil
}

// applyLobbySettings configures the media preferences the way a user would
// in the lobby. The lobby starts with microphone and camera live, so those
// are only touched when the settings want them off.
func (s *Strategy) applyLobbySettings(ctx context.Context, settings api.ParticipantSettings) error {
	if err := s.evaluate(ctx, setNoiseSuppressionScript, string(settings.NoiseSuppression)); err != nil {
		return errors.Wrap(err, "failed to set noise suppression")
	}
	if err := s.evaluate(ctx, setBackgroundBlurScript, settings.BackgroundBlur); err != nil {
		return errors.Wrap(err, "failed to set background blur")
	}
	if err := s.evaluate(ctx, setResolutionScript, string(settings.Resolution)); err != nil {
		return errors.Wrap(err, "failed to set the webcam resolution")
	}
	if err := s.evaluate(ctx, setForceWebrtcScript, settings.Transport == api.TransportWebRTC); err != nil {
		return errors.Wrap(err, "failed to set the transport mode")
	}
	if !settings.Audio {
		if err := s.setToggle(ctx, audioToggle, false); err != nil {
			return err
		}
	}
	if !settings.Video {
		if err := s.setToggle(ctx, videoToggle, false); err != nil {
			return err
		}
	}
	return nil
}

// setToggle clicks selector so that the feature behind it ends up enabled,
// confirmed through the data-test-state attribute.
func (s *Strategy) setToggle(ctx context.Context, selector string, enabled bool) error {
	current, err := s.toggleState(ctx, selector)
	if err != nil {
		return err
	}
	if current == enabled {
		return nil
	}
	if err := s.driver.Click(ctx, selector); err != nil {
		return errors.Wrapf(err, "failed to click %q", selector)
	}
	confirmed, err := s.toggleState(ctx, selector)
	if err != nil {
		return err
	}
	if confirmed != enabled {
		return errors.Errorf("%q still reports %t after clicking it", selector, confirmed)
	}
	return nil
}

func (s *Strategy) toggleState(ctx context.Context, selector string) (bool, error) {
	value, err := s.driver.Attribute(ctx, selector, toggleStateAttribute)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read the state of %q", selector)
	}
	return value == "true", nil
}

// waitFor blocks until selector exists in the page. A wait that runs out
// is retried up to the configured attempts before it becomes a timeout
// error.
func (s *Strategy) waitFor(ctx context.Context, selector string) error {
	err := retry.Do(
		func() error { return s.driver.WaitFor(ctx, selector, elementTimeout) },
		retry.Attempts(s.attempts),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrElementNotFound) && ctx.Err() == nil
		}),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrElementNotFound) || errors.Is(err, context.DeadlineExceeded) {
		return errors.WithStack(&simerrors.ErrTimeout{Op: fmt.Sprintf("waitFor %s", selector), Timeout: elementTimeout})
	}
	return errors.Wrapf(err, "failed waiting for %q", selector)
}

func (s *Strategy) evaluate(ctx context.Context, script string, args ...interface{}) error {
	_, err := s.driver.Evaluate(ctx, script, args...)
	return err
}

func (s *Strategy) requireSurface() error {
	if s.driver == nil {
		return errors.WithStack(&simerrors.ErrInternal{Message: "no rendering surface is running"})
	}
	return nil
}

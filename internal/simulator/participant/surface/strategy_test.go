package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/internal/simulator/credentials"
	"github.com/hypervideo/client-simulator/pkg/api"
)

func TestJoinDrivesThePageLikeAUser(t *testing.T) {
	driver := newFakeDriver()
	strategy := authenticatedStrategy(t, driver)

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{
		Audio:     true,
		Video:     false,
		Transport: api.TransportWebRTC,
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"setCookie hyper_session @ meet.example.com",
		"navigate https://meet.example.com/spaces/standup",
		fmt.Sprintf("waitFor %s", nameInput),
		fmt.Sprintf("type %s", nameInput),
		fmt.Sprintf("waitFor %s", joinButton),
		"evaluate setNoiseSuppression([none])",
		"evaluate setBackgroundBlur([false])",
		"evaluate setResolution([auto])",
		"evaluate setForceWebrtc([true])",
		fmt.Sprintf("click %s", videoToggle),
		fmt.Sprintf("click %s", joinButton),
		fmt.Sprintf("waitFor %s", leaveButton),
	}, driver.calls)
	assert.Equal(t, "alice", driver.typed[nameInput])
	assert.Equal(t, "false", driver.attrs[videoToggle])
	assert.Equal(t, "true", driver.attrs[audioToggle])
}

func TestJoinInjectsTheSessionCookie(t *testing.T) {
	driver := newFakeDriver()
	strategy := authenticatedStrategy(t, driver)

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{Audio: true, Video: true}))
	require.NoError(t, err)

	require.Len(t, driver.cookies, 1)
	assert.Equal(t, Cookie{
		Name:   credentials.SessionCookieName,
		Value:  "token-123",
		Domain: "meet.example.com",
	}, driver.cookies[0])
}

func TestJoinStartsScreenSharingInsideTheCall(t *testing.T) {
	driver := newFakeDriver()
	strategy := authenticatedStrategy(t, driver)

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{
		Audio:       true,
		Video:       true,
		Screenshare: true,
	}))
	require.NoError(t, err)

	clickedAt := indexOf(t, driver.calls, fmt.Sprintf("click %s", screenshareToggle))
	joinedAt := indexOf(t, driver.calls, fmt.Sprintf("waitFor %s", leaveButton))
	assert.Greater(t, clickedAt, joinedAt)
	assert.Equal(t, "true", driver.attrs[screenshareToggle])
}

func TestJoinRetriesElementWaits(t *testing.T) {
	driver := newFakeDriver()
	driver.waitErrs[nameInput] = []error{ErrElementNotFound}
	strategy := authenticatedStrategy(t, driver)

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{Audio: true, Video: true}))
	require.NoError(t, err)

	assert.Equal(t, 2, occurrences(driver.calls, fmt.Sprintf("waitFor %s", nameInput)))
}

func TestJoinTimesOutWhenAnElementNeverAppears(t *testing.T) {
	driver := newFakeDriver()
	driver.missing[leaveButton] = true
	strategy := authenticatedStrategy(t, driver)

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{Audio: true, Video: true}))
	require.Error(t, err)

	var timeout *simerrors.ErrTimeout
	require.True(t, errors.As(err, &timeout))
	assert.Contains(t, timeout.Op, leaveButton)
	assert.Equal(t, 3, occurrences(driver.calls, fmt.Sprintf("waitFor %s", leaveButton)))
}

func TestJoinReportsAnExpiredDeadlineAsTimeout(t *testing.T) {
	driver := newFakeDriver()
	strategy := authenticatedStrategy(t, driver)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err := strategy.Join(ctx, surfaceSpec(api.ParticipantSettings{Audio: true, Video: true}))
	require.Error(t, err)

	var timeout *simerrors.ErrTimeout
	assert.True(t, errors.As(err, &timeout))
}

func TestJoinContinuesWhenLobbySettingsFail(t *testing.T) {
	driver := newFakeDriver()
	driver.evalErrs["setResolution"] = errors.New("settings store not loaded yet")
	strategy := authenticatedStrategy(t, driver)

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{Audio: true, Video: true}))
	require.NoError(t, err)

	assert.Contains(t, driver.calls, fmt.Sprintf("click %s", joinButton))
}

func TestJoinWithoutAuthenticateFails(t *testing.T) {
	factory, _ := scriptedFactory(newFakeDriver(), 0)
	strategy := New(factory, 3)

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{}))
	require.Error(t, err)

	var internal *simerrors.ErrInternal
	assert.True(t, errors.As(err, &internal))
}

func TestSurfaceCreationIsRetried(t *testing.T) {
	driver := newFakeDriver()
	factory, calls := scriptedFactory(driver, 1)
	strategy := New(factory, 3)
	require.NoError(t, strategy.Authenticate(context.Background(), testCredential()))

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{Audio: true, Video: true}))
	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestSurfaceCreationGivesUpAfterConfiguredAttempts(t *testing.T) {
	factory, calls := scriptedFactory(newFakeDriver(), 10)
	strategy := New(factory, 2)
	require.NoError(t, strategy.Authenticate(context.Background(), testCredential()))

	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{Audio: true, Video: true}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to launch a rendering surface")
	assert.Equal(t, 2, *calls)
}

func TestMediaTogglesConfirmThroughTheStateAttribute(t *testing.T) {
	driver := newFakeDriver()
	strategy := joinedStrategy(t, driver)
	clicksBefore := occurrences(driver.calls, fmt.Sprintf("click %s", audioToggle))

	require.NoError(t, strategy.SetAudio(context.Background(), false))
	assert.Equal(t, clicksBefore+1, occurrences(driver.calls, fmt.Sprintf("click %s", audioToggle)))
	assert.Equal(t, "false", driver.attrs[audioToggle])

	// Already off, so no further click happens.
	require.NoError(t, strategy.SetAudio(context.Background(), false))
	assert.Equal(t, clicksBefore+1, occurrences(driver.calls, fmt.Sprintf("click %s", audioToggle)))

	require.NoError(t, strategy.SetAudio(context.Background(), true))
	assert.Equal(t, "true", driver.attrs[audioToggle])
}

func TestToggleReportsWhenTheFrontendDoesNotReact(t *testing.T) {
	driver := newFakeDriver()
	strategy := joinedStrategy(t, driver)
	driver.sticky = true

	err := strategy.SetVideo(context.Background(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still reports")
}

func TestSetNoiseSuppressionEvaluatesTheSettingsScript(t *testing.T) {
	driver := newFakeDriver()
	strategy := joinedStrategy(t, driver)

	require.NoError(t, strategy.SetNoiseSuppression(context.Background(), api.NoiseSuppressionRnnoise))
	assert.Contains(t, driver.calls, "evaluate setNoiseSuppression([rnnoise])")

	require.NoError(t, strategy.SetResolution(context.Background(), api.Resolution720p))
	assert.Contains(t, driver.calls, "evaluate setResolution([720p])")

	require.NoError(t, strategy.SetBackgroundBlur(context.Background(), true))
	assert.Contains(t, driver.calls, "evaluate setBackgroundBlur([true])")
}

func TestLeaveClicksTheLeaveButton(t *testing.T) {
	driver := newFakeDriver()
	strategy := joinedStrategy(t, driver)

	require.NoError(t, strategy.Leave(context.Background()))
	assert.Contains(t, driver.calls, fmt.Sprintf("click %s", leaveButton))
}

func TestCloseShutsTheSurfaceDownOnce(t *testing.T) {
	driver := newFakeDriver()
	strategy := joinedStrategy(t, driver)

	require.NoError(t, strategy.Close(context.Background()))
	require.NoError(t, strategy.Close(context.Background()))
	assert.Equal(t, 1, driver.closed)
}

func TestCloseBeforeJoinIsANoop(t *testing.T) {
	driver := newFakeDriver()
	strategy := authenticatedStrategy(t, driver)

	require.NoError(t, strategy.Close(context.Background()))
	assert.Zero(t, driver.closed)
}

func TestCommandsWithoutASurfaceFail(t *testing.T) {
	driver := newFakeDriver()
	strategy := authenticatedStrategy(t, driver)

	err := strategy.SetAudio(context.Background(), false)
	require.Error(t, err)

	var internal *simerrors.ErrInternal
	assert.True(t, errors.As(err, &internal))
}

func surfaceSpec(settings api.ParticipantSettings) api.ParticipantSpec {
	return api.ParticipantSpec{
		Username: "alice",
		SpaceUrl: "https://meet.example.com/spaces/standup",
		Strategy: api.StrategySurface,
		Settings: settings,
	}
}

func testCredential() *credentials.Credential {
	return &credentials.Credential{Username: "alice", SessionCookie: "token-123"}
}

func scriptedFactory(driver *fakeDriver, failures int) (Factory, *int) {
	calls := new(int)
	factory := func(ctx context.Context, opts Options) (Driver, error) {
		*calls++
		if *calls <= failures {
			return nil, errors.New("no display available")
		}
		return driver, nil
	}
	return factory, calls
}

func authenticatedStrategy(t *testing.T, driver *fakeDriver) *Strategy {
	t.Helper()
	factory, _ := scriptedFactory(driver, 0)
	strategy := New(factory, 3)
	require.NoError(t, strategy.Authenticate(context.Background(), testCredential()))
	return strategy
}

func joinedStrategy(t *testing.T, driver *fakeDriver) *Strategy {
	t.Helper()
	strategy := authenticatedStrategy(t, driver)
	err := strategy.Join(context.Background(), surfaceSpec(api.ParticipantSettings{Audio: true, Video: true}))
	require.NoError(t, err)
	return strategy
}

func indexOf(t *testing.T, calls []string, call string) int {
	t.Helper()
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	t.Fatalf("call %q not found in %v", call, calls)
	return -1
}

func occurrences(calls []string, call string) (n int) {
	for _, c := range calls {
		if c == call {
			n++
		}
	}
	return n
}

// fakeDriver is a scripted rendering surface. Clicking a toggle flips its
// data-test-state attribute unless sticky is set, mirroring the frontend.
type fakeDriver struct {
	mu sync.Mutex

	calls   []string
	cookies []Cookie
	typed   map[string]string
	attrs   map[string]string
	sticky  bool

	waitErrs map[string][]error
	missing  map[string]bool
	evalErrs map[string]error
	closed   int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		typed: map[string]string{},
		attrs: map[string]string{
			audioToggle:       "true",
			videoToggle:       "true",
			screenshareToggle: "false",
		},
		waitErrs: map[string][]error{},
		missing:  map[string]bool{},
		evalErrs: map[string]error{},
	}
}

var scriptNames = map[string]string{
	setNoiseSuppressionScript: "setNoiseSuppression",
	setBackgroundBlurScript:   "setBackgroundBlur",
	setResolutionScript:       "setResolution",
	setForceWebrtcScript:      "setForceWebrtc",
}

func (d *fakeDriver) record(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.record("navigate %s", url)
	return nil
}

func (d *fakeDriver) SetCookie(_ context.Context, cookie Cookie) error {
	d.record("setCookie %s @ %s", cookie.Name, cookie.Domain)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cookies = append(d.cookies, cookie)
	return nil
}

func (d *fakeDriver) WaitFor(ctx context.Context, selector string, _ time.Duration) error {
	d.record("waitFor %s", selector)
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.missing[selector] {
		return ErrElementNotFound
	}
	queue := d.waitErrs[selector]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	d.waitErrs[selector] = queue[1:]
	return err
}

func (d *fakeDriver) Click(_ context.Context, selector string) error {
	d.record("click %s", selector)
	d.mu.Lock()
	defer d.mu.Unlock()
	if value, present := d.attrs[selector]; present && !d.sticky {
		if value == "true" {
			d.attrs[selector] = "false"
		} else {
			d.attrs[selector] = "true"
		}
	}
	return nil
}

func (d *fakeDriver) Type(_ context.Context, selector string, text string) error {
	d.record("type %s", selector)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed[selector] = text
	return nil
}

func (d *fakeDriver) Attribute(_ context.Context, selector string, _ string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attrs[selector], nil
}

func (d *fakeDriver) Evaluate(_ context.Context, script string, args ...interface{}) (string, error) {
	name, known := scriptNames[script]
	if !known {
		name = strings.SplitN(script, "{", 2)[0]
	}
	d.record("evaluate %s(%v)", name, args)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.evalErrs[name]; err != nil {
		return "", err
	}
	return "", nil
}

func (d *fakeDriver) Close(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

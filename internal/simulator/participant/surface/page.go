package surface

// Selectors of the session frontend the strategy steers.
const (
	nameInput   = `[data-testid="trigger-join-name"]`
	joinButton  = `button[type="submit"]:not([disabled])`
	leaveButton = `[data-testid="trigger-leave-call"]`

	audioToggle       = `[data-testid="toggle-audio"]`
	videoToggle       = `[data-testid="toggle-video"]`
	screenshareToggle = `[data-testid="toggle-screen-share"]`

	// Toggle buttons carry the state of the feature behind them in this
	// attribute, "true" while it is on.
	toggleStateAttribute = "data-test-state"
)

// Scripts evaluated inside the session page. The frontend exposes its
// settings store on the global hyper object.
const (
	setNoiseSuppressionScript = "function f(noiseSuppression) { hyper.settings.media.actions.setNoiseSuppression(noiseSuppression); }"
	setBackgroundBlurScript   = "function f(value) { return hyper.settings.media.actions.setBackgroundBlur(value); }"
	setResolutionScript       = "function f(value) { return hyper.settings.videoCodec.actions.setVideoResolutionForWebcamEncoder(value); }"
	setForceWebrtcScript      = "function f(value) { return hyper.settings.sessionDebug.actions.setForceWebrtc(value); }"
)

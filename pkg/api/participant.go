package api

// Stage is a participant's life-cycle stage. Stages only ever move forward,
// except that media toggles keep a participant in StageActive.
type Stage string

const (
	StageSpawned       Stage = "Spawned"
	StageAuthenticated Stage = "Authenticated"
	StageJoined        Stage = "Joined"
	StageActive        Stage = "Active"
	StageClosed        Stage = "Closed"
	StageFailed        Stage = "Failed"
)

// Terminal reports whether no further commands are accepted in this stage.
func (s Stage) Terminal() bool {
	return s == StageClosed || s == StageFailed
}

// ParticipantSpec describes one participant to be spawned.
type ParticipantSpec struct {
	Username string              `json:"username"`
	SpaceUrl string              `json:"spaceUrl"`
	Strategy StrategyKind        `json:"strategy,omitempty"`
	Settings ParticipantSettings `json:"settings"`
}

// ParticipantState is the externally visible snapshot of one participant.
type ParticipantState struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Stage    Stage  `json:"stage"`

	Muted            bool             `json:"muted"`
	VideoOn          bool             `json:"videoOn"`
	ScreensharingOn  bool             `json:"screensharingOn"`
	NoiseSuppression NoiseSuppression `json:"noiseSuppression"`
	Resolution       Resolution       `json:"resolution"`
	Transport        Transport        `json:"transport"`
	BackgroundBlur   bool             `json:"backgroundBlur"`

	// FailureReason and LastStage are only set once Stage is StageFailed.
	// LastStage records the stage the participant was in when it failed, so
	// "never authenticated" and "joined then disconnected" can be told apart
	// without inspecting logs. Forced marks a failure caused by forced
	// termination after the close grace period expired.
	FailureReason string `json:"failureReason,omitempty"`
	LastStage     Stage  `json:"lastStage,omitempty"`
	Forced        bool   `json:"forced,omitempty"`
}

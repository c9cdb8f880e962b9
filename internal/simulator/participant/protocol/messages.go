package protocol

// clientMessage is a message sent by the simulator over the signalling
// connection. Type discriminates; all other fields are optional and only
// present where the type calls for them.
type clientMessage struct {
	Type string `json:"type"`

	// hello
	Token string `json:"token,omitempty"`

	// join
	Username    string `json:"username,omitempty"`
	Audio       *bool  `json:"audio,omitempty"`
	Video       *bool  `json:"video,omitempty"`
	Screenshare *bool  `json:"screenshare,omitempty"`
	Transport   string `json:"transport,omitempty"`

	// media
	Kind    string `json:"kind,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`

	// set
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// serverMessage is a message received from the session backend.
type serverMessage struct {
	Type string `json:"type"`

	// welcome
	SessionId string `json:"sessionId,omitempty"`

	// joined
	ParticipantId string `json:"participantId,omitempty"`

	// ack
	Kind string `json:"kind,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

// Message types of the signalling protocol. Every client message except
// bye is answered: hello with welcome, join with joined, media and set and
// leave with an ack of the matching kind. The backend reports problems as
// error messages.
const (
	typeHello   = "hello"
	typeWelcome = "welcome"
	typeJoin    = "join"
	typeJoined  = "joined"
	typeMedia   = "media"
	typeSet     = "set"
	typeLeave   = "leave"
	typeAck     = "ack"
	typeError   = "error"
	typeBye     = "bye"
)

// Media kinds used in media messages.
const (
	kindAudio       = "audio"
	kindVideo       = "video"
	kindScreenshare = "screenshare"
)

// Setting names used in set messages.
const (
	settingResolution = "resolution"
)

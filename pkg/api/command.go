package api

import (
	"encoding/json"
	"fmt"
)

// CommandKind tags an action addressed to one participant.
type CommandKind string

const (
	CommandJoin                CommandKind = "join"
	CommandLeave               CommandKind = "leave"
	CommandToggleAudio         CommandKind = "toggle-audio"
	CommandToggleVideo         CommandKind = "toggle-video"
	CommandToggleScreenshare   CommandKind = "toggle-screenshare"
	CommandSetNoiseSuppression CommandKind = "set-noise-suppression"
	CommandSetResolution       CommandKind = "set-resolution"
	CommandToggleBackgroundBlur CommandKind = "toggle-background-blur"
	CommandClose               CommandKind = "close"
)

var commandKindValues = map[string]CommandKind{
	string(CommandJoin):                 CommandJoin,
	string(CommandLeave):                CommandLeave,
	string(CommandToggleAudio):          CommandToggleAudio,
	string(CommandToggleVideo):          CommandToggleVideo,
	string(CommandToggleScreenshare):    CommandToggleScreenshare,
	string(CommandSetNoiseSuppression):  CommandSetNoiseSuppression,
	string(CommandSetResolution):        CommandSetResolution,
	string(CommandToggleBackgroundBlur): CommandToggleBackgroundBlur,
	string(CommandClose):                CommandClose,
}

func ParseCommandKind(s string) (CommandKind, error) {
	if v, present := commandKindValues[s]; present {
		return v, nil
	}
	return "", fmt.Errorf("no command of type %q", s)
}

func (x *CommandKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseCommandKind(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// Command is an action addressed to one participant. The setter commands
// carry their argument in the matching optional field.
type Command struct {
	Kind             CommandKind      `json:"kind"`
	NoiseSuppression NoiseSuppression `json:"noiseSuppression,omitempty"`
	Resolution       Resolution       `json:"resolution,omitempty"`
}

package api

import (
	"encoding/json"
	"fmt"
)

// Transport selects how media reaches the session backend.
type Transport string

const (
	// TransportWebTransport is datagram-first and the default.
	TransportWebTransport Transport = "webtransport"
	// TransportWebRTC is the stream-based fallback.
	TransportWebRTC Transport = "webrtc"
)

var transportValues = map[string]Transport{
	string(TransportWebTransport): TransportWebTransport,
	string(TransportWebRTC):       TransportWebRTC,
}

func ParseTransport(s string) (Transport, error) {
	if s == "" {
		return TransportWebTransport, nil
	}
	if v, present := transportValues[s]; present {
		return v, nil
	}
	return "", fmt.Errorf("no transport of type %q", s)
}

func (x *Transport) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseTransport(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

func (x *Transport) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseTransport(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// Resolution is the webcam capture resolution requested at join time.
type Resolution string

const (
	ResolutionAuto  Resolution = "auto"
	Resolution144p  Resolution = "144p"
	Resolution240p  Resolution = "240p"
	Resolution360p  Resolution = "360p"
	Resolution480p  Resolution = "480p"
	Resolution720p  Resolution = "720p"
	Resolution1080p Resolution = "1080p"
	Resolution1440p Resolution = "1440p"
	Resolution2160p Resolution = "2160p"
)

var resolutionValues = map[string]Resolution{
	string(ResolutionAuto):  ResolutionAuto,
	string(Resolution144p):  Resolution144p,
	string(Resolution240p):  Resolution240p,
	string(Resolution360p):  Resolution360p,
	string(Resolution480p):  Resolution480p,
	string(Resolution720p):  Resolution720p,
	string(Resolution1080p): Resolution1080p,
	string(Resolution1440p): Resolution1440p,
	string(Resolution2160p): Resolution2160p,
}

func ParseResolution(s string) (Resolution, error) {
	if s == "" {
		return ResolutionAuto, nil
	}
	if v, present := resolutionValues[s]; present {
		return v, nil
	}
	return "", fmt.Errorf("no resolution of type %q", s)
}

func (x *Resolution) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseResolution(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

func (x *Resolution) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseResolution(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// NoiseSuppression selects the audio noise suppression model applied to the
// microphone track. Only the full-surface strategy can activate models other
// than NoiseSuppressionNone.
type NoiseSuppression string

const (
	NoiseSuppressionNone              NoiseSuppression = "none"
	NoiseSuppressionDeepfilternet     NoiseSuppression = "deepfilternet"
	NoiseSuppressionRnnoise           NoiseSuppression = "rnnoise"
	NoiseSuppressionIrisShepherd      NoiseSuppression = "iris-shepherd"
	NoiseSuppressionKrispHigh         NoiseSuppression = "krisp-high"
	NoiseSuppressionKrispMedium       NoiseSuppression = "krisp-medium"
	NoiseSuppressionKrispLow          NoiseSuppression = "krisp-low"
	NoiseSuppressionKrispHighWithBvc  NoiseSuppression = "krisp-high-with-bvc"
	NoiseSuppressionKrispMediumWithBvc NoiseSuppression = "krisp-medium-with-bvc"
)

var noiseSuppressionValues = map[string]NoiseSuppression{
	string(NoiseSuppressionNone):               NoiseSuppressionNone,
	string(NoiseSuppressionDeepfilternet):      NoiseSuppressionDeepfilternet,
	string(NoiseSuppressionRnnoise):            NoiseSuppressionRnnoise,
	string(NoiseSuppressionIrisShepherd):       NoiseSuppressionIrisShepherd,
	string(NoiseSuppressionKrispHigh):          NoiseSuppressionKrispHigh,
	string(NoiseSuppressionKrispMedium):        NoiseSuppressionKrispMedium,
	string(NoiseSuppressionKrispLow):           NoiseSuppressionKrispLow,
	string(NoiseSuppressionKrispHighWithBvc):   NoiseSuppressionKrispHighWithBvc,
	string(NoiseSuppressionKrispMediumWithBvc): NoiseSuppressionKrispMediumWithBvc,
}

func ParseNoiseSuppression(s string) (NoiseSuppression, error) {
	if s == "" {
		return NoiseSuppressionNone, nil
	}
	if v, present := noiseSuppressionValues[s]; present {
		return v, nil
	}
	return "", fmt.Errorf("no noise suppression model of type %q", s)
}

func (x *NoiseSuppression) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseNoiseSuppression(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

func (x *NoiseSuppression) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseNoiseSuppression(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// FakeMedia selects the synthetic capture source. Besides the two well-known
// values any file path or URL is accepted and streamed as the capture source.
type FakeMedia string

const (
	FakeMediaNone    FakeMedia = "none"
	FakeMediaBuiltin FakeMedia = "builtin"
)

func ParseFakeMedia(s string) (FakeMedia, error) {
	if s == "" {
		return FakeMediaNone, nil
	}
	return FakeMedia(s), nil
}

// StrategyKind selects the implementation backing a participant.
type StrategyKind string

const (
	// StrategySurface drives a full remote-controlled rendering surface.
	StrategySurface StrategyKind = "surface"
	// StrategyProtocol talks to the session backend directly, with no rendering.
	StrategyProtocol StrategyKind = "protocol"
)

var strategyValues = map[string]StrategyKind{
	string(StrategySurface):  StrategySurface,
	string(StrategyProtocol): StrategyProtocol,
}

func ParseStrategyKind(s string) (StrategyKind, error) {
	if s == "" {
		return StrategyProtocol, nil
	}
	if v, present := strategyValues[s]; present {
		return v, nil
	}
	return "", fmt.Errorf("no participant strategy of type %q", s)
}

func (x *StrategyKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParseStrategyKind(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

func (x *StrategyKind) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseStrategyKind(s)
	if err != nil {
		return err
	}
	*x = v
	return nil
}

// ParticipantSettings are the media preferences a participant joins with.
// The zero value of each enum field means "use the default".
type ParticipantSettings struct {
	Audio            bool             `json:"audio"`
	Video            bool             `json:"video"`
	Screenshare      bool             `json:"screenshare"`
	Headless         bool             `json:"headless"`
	FakeMedia        FakeMedia        `json:"fakeMedia,omitempty"`
	Resolution       Resolution       `json:"resolution,omitempty"`
	NoiseSuppression NoiseSuppression `json:"noiseSuppression,omitempty"`
	Transport        Transport        `json:"transport,omitempty"`
	BackgroundBlur   bool             `json:"backgroundBlur"`
}

// WithDefaults returns a copy with all zero-valued enum fields replaced by
// their defaults.
func (s ParticipantSettings) WithDefaults() ParticipantSettings {
	if s.FakeMedia == "" {
		s.FakeMedia = FakeMediaNone
	}
	if s.Resolution == "" {
		s.Resolution = ResolutionAuto
	}
	if s.NoiseSuppression == "" {
		s.NoiseSuppression = NoiseSuppressionNone
	}
	if s.Transport == "" {
		s.Transport = TransportWebTransport
	}
	return s
}

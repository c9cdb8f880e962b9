package orchestrator

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/hypervideo/client-simulator/internal/common/simerrors"
	"github.com/hypervideo/client-simulator/pkg/api"
)

// Batch is the declarative specification of one load-test run: which space
// to join, through which workers, with how many participants and on what
// schedule.
type Batch struct {
	SpaceUrl string   `yaml:"spaceUrl"`
	Workers  []string `yaml:"workers"`

	// Defaults apply to every participant that does not carry its own
	// settings.
	Defaults Defaults `yaml:"defaults"`

	// Participants are the explicitly described participants. Count adds
	// that many generated participants on top, named orch-<index>.
	Participants []Entry `yaml:"participants"`
	Count        int     `yaml:"count"`

	// RunSeconds is how long joined participants stay in the session once
	// dispatch has completed. TimeoutSeconds caps the whole batch; zero
	// means no cap.
	RunSeconds     int `yaml:"runSeconds"`
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

type Defaults struct {
	Settings `yaml:",inline"`
	Strategy api.StrategyKind `yaml:"strategy"`
}

// Settings mirror api.ParticipantSettings with the batch file's key
// spelling. The enum types validate themselves while the file is parsed.
type Settings struct {
	Audio            bool                 `yaml:"audio"`
	Video            bool                 `yaml:"video"`
	Screenshare      bool                 `yaml:"screenshare"`
	Headless         bool                 `yaml:"headless"`
	FakeMedia        api.FakeMedia        `yaml:"fakeMedia"`
	Resolution       api.Resolution       `yaml:"resolution"`
	NoiseSuppression api.NoiseSuppression `yaml:"noiseSuppression"`
	Transport        api.Transport        `yaml:"transport"`
	BackgroundBlur   bool                 `yaml:"backgroundBlur"`
}

// Entry describes one explicit participant. Settings, when present,
// replace the batch defaults for this participant entirely.
type Entry struct {
	Username         string           `yaml:"username"`
	JoinDelaySeconds int              `yaml:"joinDelaySeconds"`
	Strategy         api.StrategyKind `yaml:"strategy"`
	Settings         *Settings        `yaml:"settings"`
}

// Assignment is one materialized participant: its spec, its worker and its
// join delay relative to batch start.
type Assignment struct {
	Index  int
	Worker string
	Delay  time.Duration
	Spec   api.ParticipantSpec
}

// LoadBatch reads a batch specification from a YAML file. Parse failures
// are validation errors; the file never partially applies.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read batch specification %s", path)
	}
	var batch Batch
	if err := yaml.UnmarshalStrict(data, &batch); err != nil {
		return nil, errors.WithStack(&simerrors.ErrInvalidArgument{
			Name: "batch", Value: path, Message: err.Error(),
		})
	}
	return &batch, nil
}

// Validate checks the whole batch and reports every violation, not just the
// first. Nothing is dispatched from a batch with any violation.
func (b *Batch) Validate() error {
	var result *multierror.Error
	collect := func(name string, value interface{}, message string) {
		result = multierror.Append(result, &simerrors.ErrInvalidArgument{
			Name: name, Value: value, Message: message,
		})
	}

	if b.SpaceUrl == "" {
		collect("spaceUrl", "", "cannot be empty")
	} else if _, err := url.ParseRequestURI(b.SpaceUrl); err != nil {
		collect("spaceUrl", b.SpaceUrl, err.Error())
	}

	if len(b.Workers) == 0 {
		collect("workers", "", "at least one worker endpoint is required")
	}
	for i, worker := range b.Workers {
		if _, err := url.ParseRequestURI(worker); err != nil {
			collect(fmt.Sprintf("workers[%d]", i), worker, err.Error())
		}
	}

	if b.Count < 0 {
		collect("count", b.Count, "cannot be negative")
	}
	if len(b.Participants)+b.Count <= 0 {
		collect("participants", "", "the batch contains no participants")
	}
	if b.RunSeconds < 0 {
		collect("runSeconds", b.RunSeconds, "cannot be negative")
	}
	if b.TimeoutSeconds < 0 {
		collect("timeoutSeconds", b.TimeoutSeconds, "cannot be negative")
	}

	seen := map[string]int{}
	for i, entry := range b.Participants {
		field := fmt.Sprintf("participants[%d]", i)
		if entry.Username == "" {
			collect(field+".username", "", "cannot be empty")
		} else if first, duplicate := seen[entry.Username]; duplicate {
			collect(field+".username", entry.Username,
				fmt.Sprintf("duplicates participants[%d]", first))
		} else {
			seen[entry.Username] = i
		}
		if entry.JoinDelaySeconds < 0 {
			collect(field+".joinDelaySeconds", entry.JoinDelaySeconds, "cannot be negative")
		}
	}
	// Generated usernames must not collide with explicit ones either.
	for i := 0; i < b.Count; i++ {
		username := generatedUsername(len(b.Participants) + i)
		if first, duplicate := seen[username]; duplicate {
			collect("count", username,
				fmt.Sprintf("generated username collides with participants[%d]", first))
		}
	}

	return result.ErrorOrNil()
}

// Materialize expands the batch into one assignment per participant:
// explicit entries first, then the generated ones, with workers assigned
// round-robin independent of any per-participant settings.
func (b *Batch) Materialize() []Assignment {
	total := len(b.Participants) + b.Count
	assignments := make([]Assignment, 0, total)

	for index := 0; index < total; index++ {
		var entry Entry
		if index < len(b.Participants) {
			entry = b.Participants[index]
		} else {
			entry = Entry{Username: generatedUsername(index)}
		}

		settings := b.Defaults.Settings
		if entry.Settings != nil {
			settings = *entry.Settings
		}
		strategy := b.Defaults.Strategy
		if entry.Strategy != "" {
			strategy = entry.Strategy
		}

		assignments = append(assignments, Assignment{
			Index:  index,
			Worker: b.Workers[index%len(b.Workers)],
			Delay:  time.Duration(entry.JoinDelaySeconds) * time.Second,
			Spec: api.ParticipantSpec{
				Username: entry.Username,
				SpaceUrl: b.SpaceUrl,
				Strategy: strategy,
				Settings: settings.toApi(),
			},
		})
	}
	return assignments
}

func (s Settings) toApi() api.ParticipantSettings {
	return api.ParticipantSettings{
		Audio:            s.Audio,
		Video:            s.Video,
		Screenshare:      s.Screenshare,
		Headless:         s.Headless,
		FakeMedia:        s.FakeMedia,
		Resolution:       s.Resolution,
		NoiseSuppression: s.NoiseSuppression,
		Transport:        s.Transport,
		BackgroundBlur:   s.BackgroundBlur,
	}.WithDefaults()
}

func generatedUsername(index int) string {
	return fmt.Sprintf("orch-%d", index)
}

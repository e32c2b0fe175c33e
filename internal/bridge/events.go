package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/toverwu-qaq/opentypeless/internal/domain"
)

// ErrUnknownEvent is returned by Decode for names outside the known set.
var ErrUnknownEvent = errors.New("unknown backend event")

// Event is a decoded backend push. The set of implementations is closed.
type Event interface {
	backendEvent()
}

type AudioVolume struct{ Level float64 }

type PartialTranscript struct{ Text string }

type FinalTranscript struct{ Text string }

// PolishChunk is one streamed piece of LLM polish output.
type PolishChunk struct{ Text string }

type PipelineStateChanged struct{ State domain.PipelineState }

type TargetApp struct{ Name string }

type PipelineError struct{ Message string }

type PipelineTiming struct{ Timing domain.PipelineTiming }

// Navigate asks the main window to show a route.
type Navigate struct{ Route domain.Route }

func (AudioVolume) backendEvent()          {}
func (PartialTranscript) backendEvent()    {}
func (FinalTranscript) backendEvent()      {}
func (PolishChunk) backendEvent()          {}
func (PipelineStateChanged) backendEvent() {}
func (TargetApp) backendEvent()            {}
func (PipelineError) backendEvent()        {}
func (PipelineTiming) backendEvent()       {}
func (Navigate) backendEvent()             {}

// EventNames lists every event the bridge subscribes to.
var EventNames = []string{
	domain.EventAudioVolume,
	domain.EventSTTPartial,
	domain.EventSTTFinal,
	domain.EventLLMChunk,
	domain.EventPipelineState,
	domain.EventPipelineTargetApp,
	domain.EventPipelineError,
	domain.EventPipelineTiming,
	domain.EventTraySettings,
	domain.EventTrayHistory,
	domain.EventTrayAbout,
	domain.EventNavigate,
}

// Decode converts a raw payload for the named event into a typed Event.
func Decode(name string, payload json.RawMessage) (Event, error) {
	switch name {
	case domain.EventAudioVolume:
		var level float64
		if err := decodeInto(name, payload, &level); err != nil {
			return nil, err
		}
		return AudioVolume{Level: level}, nil
	case domain.EventSTTPartial:
		text, err := decodeString(name, payload)
		return PartialTranscript{Text: text}, err
	case domain.EventSTTFinal:
		text, err := decodeString(name, payload)
		return FinalTranscript{Text: text}, err
	case domain.EventLLMChunk:
		text, err := decodeString(name, payload)
		return PolishChunk{Text: text}, err
	case domain.EventPipelineState:
		text, err := decodeString(name, payload)
		if err != nil {
			return nil, err
		}
		state, err := domain.ParsePipelineState(text)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return PipelineStateChanged{State: state}, nil
	case domain.EventPipelineTargetApp:
		text, err := decodeString(name, payload)
		return TargetApp{Name: text}, err
	case domain.EventPipelineError:
		text, err := decodeString(name, payload)
		return PipelineError{Message: text}, err
	case domain.EventPipelineTiming:
		var timing domain.PipelineTiming
		if err := decodeInto(name, payload, &timing); err != nil {
			return nil, err
		}
		return PipelineTiming{Timing: timing}, nil
	case domain.EventTraySettings, domain.EventTrayAbout:
		return Navigate{Route: domain.RouteSettings}, nil
	case domain.EventTrayHistory:
		return Navigate{Route: domain.RouteHistory}, nil
	case domain.EventNavigate:
		text, err := decodeString(name, payload)
		return Navigate{Route: domain.Route(text)}, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
}

func decodeString(name string, payload json.RawMessage) (string, error) {
	var text string
	if err := decodeInto(name, payload, &text); err != nil {
		return "", err
	}
	return text, nil
}

func decodeInto(name string, payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return fmt.Errorf("decode %s: empty payload", name)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

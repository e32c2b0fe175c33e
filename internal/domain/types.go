package domain

import "fmt"

// PipelineState models the dictation pipeline as pushed by the native backend.
type PipelineState string

const (
	PipelineIdle         PipelineState = "idle"
	PipelineRecording    PipelineState = "recording"
	PipelineTranscribing PipelineState = "transcribing"
	PipelinePolishing    PipelineState = "polishing"
	PipelineOutputting   PipelineState = "outputting"
)

// Valid reports whether s is one of the known pipeline states.
func (s PipelineState) Valid() bool {
	switch s {
	case PipelineIdle, PipelineRecording, PipelineTranscribing, PipelinePolishing, PipelineOutputting:
		return true
	default:
		return false
	}
}

// IsRecording returns true while audio is being captured.
func (s PipelineState) IsRecording() bool {
	return s == PipelineRecording
}

// IsProcessing returns true while the backend is transcribing or polishing.
func (s PipelineState) IsProcessing() bool {
	switch s {
	case PipelineTranscribing, PipelinePolishing:
		return true
	default:
		return false
	}
}

// ParsePipelineState validates a wire value.
func ParsePipelineState(value string) (PipelineState, error) {
	state := PipelineState(value)
	if !state.Valid() {
		return "", fmt.Errorf("unknown pipeline state %q", value)
	}
	return state, nil
}

// Command names understood by the native backend.
const (
	CommandStartRecording = "start_recording"
	CommandStopRecording  = "stop_recording"
	CommandGetHistory     = "get_history"
)

// Event names pushed by the native backend.
const (
	EventAudioVolume       = "audio:volume"
	EventSTTPartial        = "stt:partial"
	EventSTTFinal          = "stt:final"
	EventLLMChunk          = "llm:chunk"
	EventPipelineState     = "pipeline:state"
	EventPipelineTargetApp = "pipeline:target_app"
	EventPipelineError     = "pipeline:error"
	EventPipelineTiming    = "pipeline:timing"
	EventTraySettings      = "tray:settings"
	EventTrayHistory       = "tray:history"
	EventTrayAbout         = "tray:about"
	EventNavigate          = "navigate"
)

// Route identifies a page of the main window.
type Route string

const (
	RouteHome     Route = "#/"
	RouteSettings Route = "#/settings"
	RouteHistory  Route = "#/history"
	RouteAccount  Route = "#/account"
	RouteUpgrade  Route = "#/upgrade"
)

// HistoryEntry is one completed dictation as stored by the backend.
type HistoryEntry struct {
	ID           int64  `json:"id"`
	CreatedAt    string `json:"created_at"`
	AppName      string `json:"app_name"`
	AppType      string `json:"app_type"`
	RawText      string `json:"raw_text"`
	PolishedText string `json:"polished_text"`
	Language     string `json:"language,omitempty"`
	DurationMS   int64  `json:"duration_ms,omitempty"`
}

// HistoryQuery pages through the backend history.
type HistoryQuery struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// PipelineTiming reports how long each backend stage took for the last dictation.
type PipelineTiming struct {
	STTMillis       int64 `json:"stt_ms"`
	LLMMillis       int64 `json:"llm_ms"`
	TotalMillis     int64 `json:"total_ms"`
	RecordingMillis int64 `json:"recording_ms,omitempty"`
}

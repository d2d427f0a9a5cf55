package session

import (
	"github.com/igolaizola/hackjam/pkg/fusion"
	"github.com/igolaizola/hackjam/pkg/suno"
)

// Event types.
const (
	TypeSession = "session"
	TypeTrack   = "track"
	TypeError   = "error"
)

// Session event names.
const (
	EventStart = "start"
	EventEnd   = "end"
)

// End reasons.
const (
	ReasonMaxTracks = "max-tracks"
	ReasonTime      = "time"
	ReasonCancelled = "cancelled"
)

// Event is a progress notification sent to the subscriber of a session.
type Event struct {
	Type      string `json:"type"`
	Event     string `json:"event,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// Session start
	Tags         string          `json:"tags,omitempty"`
	Instrumental *bool           `json:"make_instrumental,omitempty"`
	Explain      *fusion.Explain `json:"explain,omitempty"`

	// Track
	Stage     suno.Stage `json:"stage,omitempty"`
	Index     int        `json:"index,omitempty"`
	ClipID    string     `json:"clipId,omitempty"`
	Title     string     `json:"title,omitempty"`
	StreamURL string     `json:"stream_url,omitempty"`
	AudioURL  string     `json:"audio_url,omitempty"`
	ImageURL  string     `json:"image_url,omitempty"`
	Duration  float64    `json:"duration,omitempty"`
	SavedPath string     `json:"saved_path,omitempty"`
	SaveError string     `json:"save_error,omitempty"`

	// Session end
	TracksDone *int   `json:"tracks_done,omitempty"`
	Reason     string `json:"reason,omitempty"`

	Message string `json:"message,omitempty"`
}

// Terminal reports whether no more events follow this one.
func (e Event) Terminal() bool {
	return e.Type == TypeError || (e.Type == TypeSession && e.Event == EventEnd)
}

func trackEvent(sessionID string, index int, clip *suno.Clip) Event {
	return Event{
		Type:      TypeTrack,
		SessionID: sessionID,
		Stage:     clip.Stage,
		Index:     index,
		ClipID:    clip.ID,
		Title:     clip.Title,
		StreamURL: clip.StreamURL,
		AudioURL:  clip.AudioURL,
		ImageURL:  clip.ImageURL,
		Duration:  clip.Duration,
		Message:   clip.ErrorMessage,
	}
}

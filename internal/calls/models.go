package calls

import (
	"maps"
	"slices"
)

// CallState is the tracked representation of one in-flight call.
//
// Invariant: a CallState exists in a state store iff the call is currently
// tracked. Termination removes the record; there is no lingering
// "terminated" row.
//
// The struct is a plain value type. Stores copy in and copy out, so callers
// may mutate what they get back without affecting stored records.
type CallState struct {
	// ResourceIdentifier is the platform's path-like reference,
	// e.g. /communications/calls/{id}. CallID is derived from it.
	ResourceIdentifier string `json:"resource_identifier"`

	// LifecycleState is empty until the first notification is applied.
	LifecycleState LifecycleState `json:"lifecycle_state,omitempty"`

	// MediaState is nil until audio is connected. Its presence is what
	// guards the audio-connected callback from firing twice.
	MediaState *MediaState `json:"media_state,omitempty"`

	// TonesPressed is append-only.
	TonesPressed []Tone `json:"tones_pressed,omitempty"`

	// MediaPromptsPlaying holds prompts in flight, unique by ID.
	MediaPromptsPlaying []MediaPrompt `json:"media_prompts_playing,omitempty"`

	// BotMediaPlaylist maps a logical prompt name to its descriptor.
	// Populated at call creation; read-only afterwards.
	BotMediaPlaylist map[string]MediaPrompt `json:"bot_media_playlist,omitempty"`

	// JoinedParticipants is replaced wholesale on each roster notification.
	JoinedParticipants []Participant `json:"joined_participants,omitempty"`

	// OwnerBotTypeName identifies which bot type owns the call.
	OwnerBotTypeName string `json:"owner_bot_type_name,omitempty"`
}

// NewCallState returns a state seeded with a resource identifier.
func NewCallState(resourceIdentifier string) *CallState {
	return &CallState{ResourceIdentifier: resourceIdentifier}
}

// CallID derives the call id from ResourceIdentifier.
// Empty when the identifier is not a call resource path.
func (s *CallState) CallID() string {
	if s == nil {
		return ""
	}
	return ExtractCallID(s.ResourceIdentifier)
}

// Clone returns a deep copy. History snapshots rely on it.
func (s *CallState) Clone() *CallState {
	if s == nil {
		return nil
	}
	out := *s
	if s.MediaState != nil {
		m := *s.MediaState
		out.MediaState = &m
	}
	out.TonesPressed = slices.Clone(s.TonesPressed)
	out.MediaPromptsPlaying = slices.Clone(s.MediaPromptsPlaying)
	out.BotMediaPlaylist = maps.Clone(s.BotMediaPlaylist)
	out.JoinedParticipants = slices.Clone(s.JoinedParticipants)
	return &out
}

// Equal reports structural equality across every field.
// Nil and empty collections compare equal.
func Equal(a, b *CallState) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ResourceIdentifier != b.ResourceIdentifier ||
		a.LifecycleState != b.LifecycleState ||
		a.OwnerBotTypeName != b.OwnerBotTypeName {
		return false
	}
	if (a.MediaState == nil) != (b.MediaState == nil) {
		return false
	}
	if a.MediaState != nil && *a.MediaState != *b.MediaState {
		return false
	}
	return slices.Equal(a.TonesPressed, b.TonesPressed) &&
		slices.Equal(a.MediaPromptsPlaying, b.MediaPromptsPlaying) &&
		maps.Equal(a.BotMediaPlaylist, b.BotMediaPlaylist) &&
		slices.Equal(a.JoinedParticipants, b.JoinedParticipants)
}

// AddPlayingPrompt records a prompt as in flight. A prompt already present
// (same ID) is replaced rather than duplicated.
func (s *CallState) AddPlayingPrompt(p MediaPrompt) {
	for i := range s.MediaPromptsPlaying {
		if s.MediaPromptsPlaying[i].ID == p.ID {
			s.MediaPromptsPlaying[i] = p
			return
		}
	}
	s.MediaPromptsPlaying = append(s.MediaPromptsPlaying, p)
}

// RemovePlayingPrompt drops the prompt with the given id and reports
// whether one was present.
func (s *CallState) RemovePlayingPrompt(id string) bool {
	if id == "" {
		return false
	}
	idx := slices.IndexFunc(s.MediaPromptsPlaying, func(p MediaPrompt) bool { return p.ID == id })
	if idx < 0 {
		return false
	}
	s.MediaPromptsPlaying = slices.Delete(s.MediaPromptsPlaying, idx, idx+1)
	return true
}

// LifecycleState is the call's phase as reported by the platform.
type LifecycleState string

const (
	LifecycleIncoming     LifecycleState = "incoming"
	LifecycleEstablishing LifecycleState = "establishing"
	LifecycleEstablished  LifecycleState = "established"
	LifecycleHold         LifecycleState = "hold"
	LifecycleTransferring LifecycleState = "transferring"
	LifecycleTerminating  LifecycleState = "terminating"
	LifecycleTerminated   LifecycleState = "terminated"
)

// MediaState reflects whether audio is flowing.
type MediaState string

const (
	MediaStateActive   MediaState = "active"
	MediaStateInactive MediaState = "inactive"
)

// Tone is a DTMF tone value, e.g. "tone1", "star", "pound".
type Tone string

const (
	TonePound Tone = "pound"
	ToneStar  Tone = "star"
)

// MediaPrompt describes a piece of audio the bot can play.
// While playing, ID carries the platform operation id.
type MediaPrompt struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri"`
}

// Participant is one roster entry. Identity across snapshots is by ID only.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	IsMuted     bool   `json:"is_muted,omitempty"`
	IsInLobby   bool   `json:"is_in_lobby,omitempty"`
}

// ResultInfo is the platform's explanation for why a call ended.
type ResultInfo struct {
	Code    int    `json:"code"`
	Subcode int    `json:"subcode,omitempty"`
	Message string `json:"message,omitempty"`
}

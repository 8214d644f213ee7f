package notifications

import (
	"callbot-platform/internal/calls"
)

// Payload is one inbound webhook delivery: an ordered list of notifications.
type Payload struct {
	ODataType string         `json:"@odata.type,omitempty"`
	Value     []Notification `json:"value"`
}

// ChangeType tags what happened to the resource.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Discriminator values carried in resourceData's @odata.type.
const (
	ODataTypeCall                = "#microsoft.graph.call"
	ODataTypeParticipant         = "#microsoft.graph.participant"
	ODataTypePlayPromptOperation = "#microsoft.graph.playPromptOperation"
)

// Resource is the decoded resourceData of a notification. It is a closed
// sum type: *CallResource, *OperationResource, *ParticipantResource,
// ParticipantsResource or *UnknownResource.
type Resource interface {
	resourceKind() string
}

// CallResource is the call object embedded in call notifications.
type CallResource struct {
	ODataType  string               `json:"@odata.type"`
	ID         string               `json:"id,omitempty"`
	State      calls.LifecycleState `json:"state,omitempty"`
	Direction  string               `json:"direction,omitempty"`
	MediaState *CallMediaState      `json:"mediaState,omitempty"`
	ToneInfo   *ToneInfo            `json:"toneInfo,omitempty"`
	ResultInfo *calls.ResultInfo    `json:"resultInfo,omitempty"`
}

// CallMediaState reports audio/video flow for a call.
type CallMediaState struct {
	Audio calls.MediaState `json:"audio,omitempty"`
	Video calls.MediaState `json:"video,omitempty"`
}

// ToneInfo carries one DTMF tone.
type ToneInfo struct {
	Tone       calls.Tone `json:"tone"`
	SequenceID int        `json:"sequenceId,omitempty"`
}

// OperationStatus is the lifecycle of an async platform operation.
type OperationStatus string

const (
	OperationNotStarted OperationStatus = "notStarted"
	OperationRunning    OperationStatus = "running"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
)

// OperationResource is an async operation such as a prompt playback.
type OperationResource struct {
	ODataType     string            `json:"@odata.type"`
	ID            string            `json:"id"`
	ClientContext string            `json:"clientContext,omitempty"`
	Status        OperationStatus   `json:"status"`
	ResultInfo    *calls.ResultInfo `json:"resultInfo,omitempty"`
}

// Finished reports whether the operation reached a terminal status.
func (o *OperationResource) Finished() bool {
	return o != nil && (o.Status == OperationCompleted || o.Status == OperationFailed)
}

// ParticipantResource is one participant as the platform reports it. On
// its own it is an update to that participant, never a roster.
type ParticipantResource struct {
	ODataType string          `json:"@odata.type,omitempty"`
	ID        string          `json:"id"`
	Info      ParticipantInfo `json:"info"`
	IsMuted   bool            `json:"isMuted,omitempty"`
	IsInLobby bool            `json:"isInLobby,omitempty"`
}

type ParticipantInfo struct {
	Identity IdentitySet `json:"identity"`
}

type IdentitySet struct {
	User        *Identity `json:"user,omitempty"`
	Application *Identity `json:"application,omitempty"`
	Phone       *Identity `json:"phone,omitempty"`
}

type Identity struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// displayName picks the first identity that has one.
func (s IdentitySet) displayName() string {
	for _, id := range []*Identity{s.User, s.Application, s.Phone} {
		if id != nil && id.DisplayName != "" {
			return id.DisplayName
		}
	}
	return ""
}

// ParticipantsResource is a full roster snapshot.
type ParticipantsResource []ParticipantResource

// UnknownResource preserves resource data we do not interpret.
type UnknownResource struct {
	ODataType string
}

func (*CallResource) resourceKind() string      { return "call" }
func (*OperationResource) resourceKind() string { return "operation" }
func (*ParticipantResource) resourceKind() string {
	return "participant"
}
func (ParticipantsResource) resourceKind() string {
	return "participants"
}
func (*UnknownResource) resourceKind() string { return "unknown" }

package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"callbot-platform/internal/calls"
)

// ErrInvalidPayload is returned for bodies that are not a notification batch.
var ErrInvalidPayload = errors.New("notifications: invalid payload")

// maxBodyBytes bounds a single webhook delivery.
const maxBodyBytes = 4 << 20

// Notification is one entry of a webhook delivery.
//
// ResourceData is decoded once, here at the boundary, from its @odata.type
// discriminator. Raw keeps the notification exactly as received for history.
type Notification struct {
	ChangeType   ChangeType
	ResourceURL  string
	ResourceData Resource
	Raw          json.RawMessage
}

type wireNotification struct {
	ChangeType   ChangeType      `json:"changeType"`
	ResourceURL  string          `json:"resourceUrl"`
	ResourceData json.RawMessage `json:"resourceData"`
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	var w wireNotification
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	res, err := decodeResource(w.ResourceData)
	if err != nil {
		return fmt.Errorf("resourceData for %q: %w", w.ResourceURL, err)
	}
	n.ChangeType = ChangeType(strings.ToLower(string(w.ChangeType)))
	n.ResourceURL = w.ResourceURL
	n.ResourceData = res
	n.Raw = append(json.RawMessage(nil), b...)
	return nil
}

func (n Notification) MarshalJSON() ([]byte, error) {
	if len(n.Raw) > 0 {
		return n.Raw, nil
	}
	data, err := json.Marshal(n.ResourceData)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireNotification{ChangeType: n.ChangeType, ResourceURL: n.ResourceURL, ResourceData: data})
}

func decodeResource(raw json.RawMessage) (Resource, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var ps ParticipantsResource
		if err := json.Unmarshal(trimmed, &ps); err != nil {
			return nil, err
		}
		return ps, nil
	}

	var head struct {
		ODataType string `json:"@odata.type"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil, err
	}

	switch t := head.ODataType; {
	case strings.EqualFold(t, ODataTypeCall):
		var c CallResource
		if err := json.Unmarshal(trimmed, &c); err != nil {
			return nil, err
		}
		return &c, nil
	case strings.EqualFold(t, ODataTypeParticipant):
		var p ParticipantResource
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case strings.HasSuffix(strings.ToLower(t), "operation"):
		var op OperationResource
		if err := json.Unmarshal(trimmed, &op); err != nil {
			return nil, err
		}
		return &op, nil
	default:
		return &UnknownResource{ODataType: t}, nil
	}
}

// Parse decodes a webhook body. An empty body yields a nil payload.
func Parse(b []byte) (*Payload, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &p, nil
}

// Decode reads and parses a webhook body.
func Decode(r io.Reader) (*Payload, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// CallID is the call id parsed from the notification's resource path.
func (n *Notification) CallID() string {
	return calls.ExtractCallID(n.ResourceURL)
}

// AssociatedCall returns the embedded call object, if any.
func (n *Notification) AssociatedCall() *CallResource {
	c, _ := n.ResourceData.(*CallResource)
	return c
}

// AssociatedPromptOperation returns the embedded prompt-playback
// operation, if any.
func (n *Notification) AssociatedPromptOperation() *OperationResource {
	op, ok := n.ResourceData.(*OperationResource)
	if !ok || op == nil || !strings.EqualFold(op.ODataType, ODataTypePlayPromptOperation) {
		return nil
	}
	return op
}

// JoinedParticipantsSnapshot returns the roster carried by the
// notification. ok is false when the notification carries no roster; an
// empty roster is reported as ok with a zero-length slice. A single
// participant update is not a roster.
func (n *Notification) JoinedParticipantsSnapshot() ([]calls.Participant, bool) {
	ps, ok := n.ResourceData.(ParticipantsResource)
	if !ok {
		return nil, false
	}
	out := make([]calls.Participant, 0, len(ps))
	for _, p := range ps {
		out = append(out, calls.Participant{
			ID:          p.ID,
			DisplayName: p.Info.Identity.displayName(),
			IsMuted:     p.IsMuted,
			IsInLobby:   p.IsInLobby,
		})
	}
	return out, true
}

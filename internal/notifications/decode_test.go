package notifications

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"callbot-platform/internal/calls"
)

const sampleBatch = `{
  "@odata.type": "#microsoft.graph.commsNotifications",
  "value": [
    {
      "changeType": "updated",
      "resourceUrl": "/communications/calls/c1",
      "resourceData": {
        "@odata.type": "#microsoft.graph.call",
        "id": "c1",
        "state": "established",
        "mediaState": {"audio": "active"},
        "toneInfo": {"tone": "tone5", "sequenceId": 3}
      }
    },
    {
      "changeType": "deleted",
      "resourceUrl": "/communications/calls/c1/operations/op1",
      "resourceData": {
        "@odata.type": "#microsoft.graph.playPromptOperation",
        "id": "op1",
        "status": "completed"
      }
    },
    {
      "changeType": "Updated",
      "resourceUrl": "/communications/calls/c1/participants",
      "resourceData": [
        {"@odata.type": "#microsoft.graph.participant", "id": "p1", "info": {"identity": {"user": {"id": "u1", "displayName": "Ada"}}}},
        {"@odata.type": "#microsoft.graph.participant", "id": "p2", "isMuted": true, "info": {"identity": {"application": {"id": "bot", "displayName": "Bot"}}}}
      ]
    },
    {
      "changeType": "updated",
      "resourceUrl": "/communications/calls/c1/operations/op2",
      "resourceData": {"@odata.type": "#microsoft.graph.recordOperation", "id": "op2", "status": "running"}
    },
    {
      "changeType": "updated",
      "resourceUrl": "/communications/calls/c1",
      "resourceData": {"@odata.type": "#microsoft.graph.somethingElse"}
    }
  ]
}`

func TestParse_ClassifiesEachVariant(t *testing.T) {
	p, err := Parse([]byte(sampleBatch))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(p.Value) != 5 {
		t.Fatalf("expected 5 notifications, got %d", len(p.Value))
	}

	call := p.Value[0].AssociatedCall()
	if call == nil {
		t.Fatalf("expected call resource")
	}
	if call.State != calls.LifecycleEstablished || call.MediaState == nil || call.MediaState.Audio != calls.MediaStateActive {
		t.Fatalf("unexpected call: %+v", call)
	}
	if call.ToneInfo == nil || call.ToneInfo.Tone != "tone5" || call.ToneInfo.SequenceID != 3 {
		t.Fatalf("unexpected tone info: %+v", call.ToneInfo)
	}
	if p.Value[0].AssociatedPromptOperation() != nil {
		t.Fatalf("call notification must not classify as prompt op")
	}
	if _, ok := p.Value[0].JoinedParticipantsSnapshot(); ok {
		t.Fatalf("call notification must not carry a roster")
	}

	op := p.Value[1].AssociatedPromptOperation()
	if op == nil || op.ID != "op1" || !op.Finished() {
		t.Fatalf("unexpected prompt op: %+v", op)
	}
	if p.Value[1].ChangeType != ChangeDeleted {
		t.Fatalf("unexpected change type %q", p.Value[1].ChangeType)
	}
	if p.Value[1].CallID() != "c1" {
		t.Fatalf("expected call id from operation path")
	}

	roster, ok := p.Value[2].JoinedParticipantsSnapshot()
	if !ok || len(roster) != 2 {
		t.Fatalf("expected roster of 2, got %v %v", roster, ok)
	}
	if roster[0].DisplayName != "Ada" || roster[1].DisplayName != "Bot" || !roster[1].IsMuted {
		t.Fatalf("unexpected roster: %+v", roster)
	}
	if p.Value[2].ChangeType != ChangeUpdated {
		t.Fatalf("expected change type normalised to lower case")
	}

	if p.Value[3].AssociatedPromptOperation() != nil {
		t.Fatalf("record operation must not classify as prompt op")
	}
	if _, ok := p.Value[3].ResourceData.(*OperationResource); !ok {
		t.Fatalf("expected operation resource for record op")
	}

	if _, ok := p.Value[4].ResourceData.(*UnknownResource); !ok {
		t.Fatalf("expected unknown resource, got %T", p.Value[4].ResourceData)
	}
	if p.Value[4].AssociatedCall() != nil {
		t.Fatalf("unknown resource must not classify as call")
	}
}

func TestParse_KeepsRawNotification(t *testing.T) {
	p, err := Parse([]byte(sampleBatch))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(p.Value[0].Raw, &m); err != nil {
		t.Fatalf("raw not valid json: %v", err)
	}
	if m["resourceUrl"] != "/communications/calls/c1" {
		t.Fatalf("unexpected raw: %s", p.Value[0].Raw)
	}
	out, err := json.Marshal(p.Value[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var want bytes.Buffer
	if err := json.Compact(&want, p.Value[0].Raw); err != nil {
		t.Fatalf("compact: %v", err)
	}
	if string(out) != want.String() {
		t.Fatalf("expected marshal to reproduce raw, got %s", out)
	}
}

func TestParse_EmptyBodyIsNilPayload(t *testing.T) {
	p, err := Parse([]byte("   "))
	if err != nil || p != nil {
		t.Fatalf("expected nil payload, got %v %v", p, err)
	}
	p, err = Decode(strings.NewReader(""))
	if err != nil || p != nil {
		t.Fatalf("expected nil payload from empty reader, got %v %v", p, err)
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	if !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestParse_SingleParticipantObjectIsNotARoster(t *testing.T) {
	body := `{"value":[{"changeType":"updated","resourceUrl":"/communications/calls/c9/participants/p1",
	  "resourceData":{"@odata.type":"#microsoft.graph.participant","id":"p1","isMuted":true,"info":{"identity":{"phone":{"id":"+1555"}}}}}]}`
	p, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	part, ok := p.Value[0].ResourceData.(*ParticipantResource)
	if !ok || part.ID != "p1" || !part.IsMuted {
		t.Fatalf("expected single participant resource, got %#v", p.Value[0].ResourceData)
	}
	if roster, ok := p.Value[0].JoinedParticipantsSnapshot(); ok || roster != nil {
		t.Fatalf("single participant must not yield a roster, got %+v %v", roster, ok)
	}
}

func TestParse_EmptyRosterIsPresent(t *testing.T) {
	body := `{"value":[{"changeType":"updated","resourceUrl":"/communications/calls/c9/participants","resourceData":[]}]}`
	p, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	roster, ok := p.Value[0].JoinedParticipantsSnapshot()
	if !ok || len(roster) != 0 {
		t.Fatalf("expected present empty roster, got %+v %v", roster, ok)
	}
}

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	evt := New(TypeChallengeCompleted, "c1", ChallengeCompletedEvent{
		ChallengeID:      "c1",
		WinnersProcessed: 2,
	}, at)

	data, err := Encode(evt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if decoded["type"] != TypeChallengeCompleted {
		t.Errorf("type = %v", decoded["type"])
	}
	if decoded["timestamp"] != "2026-03-01T22:00:00Z" {
		t.Errorf("timestamp = %v", decoded["timestamp"])
	}
	if _, ok := decoded["Key"]; ok {
		t.Error("key must not be part of the payload")
	}
	payload, ok := decoded["payload"].(map[string]any)
	if !ok || payload["challengeId"] != "c1" {
		t.Errorf("payload = %v", decoded["payload"])
	}
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	if err := p.Publish(context.Background(), New(TypeWalletCredited, "w", nil, time.Now())); err != nil {
		t.Fatalf("NopPublisher returned %v", err)
	}
}

package mq

import (
	"testing"
	"time"
)

func TestEnvelopeSurvivesKafkaEncoding(t *testing.T) {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Message{
		ID:         "evt-1",
		Key:        "game:3",
		Body:       []byte(`{"type":"submission"}`),
		Timestamp:  sent,
		Expiration: 30 * time.Second,
	}
	in.SetHeader("x-monitor-channel", "game:3")

	km := encode("ctf.monitor", in)
	if string(km.Key) != "game:3" || km.Topic != "ctf.monitor" {
		t.Fatalf("unexpected kafka message: topic=%q key=%q", km.Topic, km.Key)
	}

	out := decode(km)
	if out.ID != "evt-1" || out.Key != "game:3" || string(out.Body) != string(in.Body) {
		t.Fatalf("envelope lost: %+v", out)
	}
	if !out.Timestamp.Equal(sent) {
		t.Fatalf("timestamp = %v, want %v", out.Timestamp, sent)
	}
	if out.Expiration != 30*time.Second {
		t.Fatalf("expiration = %v", out.Expiration)
	}
	if v, ok := out.GetHeader("x-monitor-channel"); !ok || v != "game:3" {
		t.Fatalf("application header lost")
	}
	if _, ok := out.GetHeader(metaID); ok {
		t.Fatalf("reserved header leaked into application headers")
	}
}

func TestDecodeFallsBackToKeyForID(t *testing.T) {
	km := encode("t", &Message{Key: "game:9", Body: []byte("x")})
	if got := decode(km).ID; got != "game:9" {
		t.Fatalf("id = %q, want game:9", got)
	}
}

func TestMessageExpired(t *testing.T) {
	now := time.Now()
	m := &Message{Timestamp: now.Add(-time.Minute), Expiration: 10 * time.Second}
	if !m.Expired(now) {
		t.Fatalf("message should be expired")
	}
	m.Expiration = 0
	if m.Expired(now) {
		t.Fatalf("message without expiration never expires")
	}
}

func TestSubscribeOptionDefaults(t *testing.T) {
	got := (*SubscribeOptions)(nil).withDefaults("ctf.monitor")
	if got.ConsumerGroup != "ctfboard-ctf.monitor" || got.Concurrency != 1 || got.RetryDelay != time.Second {
		t.Fatalf("unexpected defaults: %+v", got)
	}

	got = (&SubscribeOptions{ConsumerGroup: "g", MaxRetries: -2, Concurrency: 4}).withDefaults("t")
	if got.ConsumerGroup != "g" || got.MaxRetries != 0 || got.Concurrency != 4 {
		t.Fatalf("explicit options not kept: %+v", got)
	}
}

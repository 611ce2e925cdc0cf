package natsutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*headerCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 1 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func startNATS(t *testing.T) *natsserver.Server {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

type event struct {
	Stage string `json:"stage"`
	Items int    `json:"items"`
}

func TestPublishEncodesJSON(t *testing.T) {
	ns := startNATS(t)
	nc, err := Connect(ns.ClientURL(), "test", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("docqa.test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "docqa.test", event{Stage: "chunk", Items: 3}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("waiting for message: %v", err)
	}
	var e event
	if err := json.Unmarshal(msg.Data, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Stage != "chunk" || e.Items != 3 {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestPublishRejectsUnencodable(t *testing.T) {
	ns := startNATS(t)
	nc, err := Connect(ns.ClientURL(), "test", nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()
	if err := Publish(context.Background(), nc, "docqa.test", func() {}); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestConnectFailure(t *testing.T) {
	if _, err := Connect("nats://127.0.0.1:1", "test", nil); err == nil {
		t.Fatal("expected connection error")
	}
}

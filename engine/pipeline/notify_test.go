package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/WessleyAI/docqa/pkg/natsutil"
)

func TestNATSNotifierPublishesPerStage(t *testing.T) {
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	defer ns.Shutdown()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := natsutil.Connect(ns.ClientURL(), "pipeline-test", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("docqa.stage.embed")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	n := NewNATSNotifier(nc, "docqa.stage")
	if err := n.Notify(context.Background(), StageEvent{Stage: StageEmbed, Items: 12, Duration: time.Second}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	msg, err := sub.NextMsg(5 * time.Second)
	if err != nil {
		t.Fatalf("waiting for stage event: %v", err)
	}
	var ev StageEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Stage != StageEmbed || ev.Items != 12 || ev.Duration != time.Second {
		t.Fatalf("unexpected event %+v", ev)
	}
}

package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "TradingTools/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("offline")}
	dispatcher := NewFanout(a, b, nil)

	err := dispatcher.Notify(context.Background(), Event{Code: xerrors.CodeTransactionFailure})
	if err == nil {
		t.Fatalf("expected joined error from failing channel")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both channels to be notified")
	}
}

func TestNewEventUsesRegisteredAttributes(t *testing.T) {
	cause := xerrors.New(xerrors.CodeTransactionFailure, "swap reverted", xerrors.WithMetadata("tx_hash", "0x1"))
	event := NewEvent("o1", "swap", cause)
	if event.Code != xerrors.CodeTransactionFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Metadata["tx_hash"] != "0x1" || event.OrderID != "o1" || event.Stage != "swap" {
		t.Fatalf("unexpected event %+v", event)
	}
}

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQNotifierPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	notifier := newRabbitMQNotifier(pub, "alerts", "")

	event := Event{Code: xerrors.CodeTransactionFailure, Severity: xerrors.SeverityCritical, OrderID: "o1", Stage: "approve"}
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if pub.exchange != "alerts" || pub.key != "order.alert.critical" {
		t.Fatalf("unexpected routing %s %s", pub.exchange, pub.key)
	}
	var decoded Event
	if err := json.Unmarshal(pub.msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.OrderID != "o1" || decoded.Stage != "approve" || pub.msg.MessageId != "o1" {
		t.Fatalf("unexpected payload %+v", decoded)
	}

	if err := notifier.Close(); err != nil || !pub.closed {
		t.Fatalf("expected channel to be closed")
	}
}

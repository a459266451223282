package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type markBody struct {
	Names []string `json:"names"`
}

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("consume channel closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestNewMessage(t *testing.T) {
	t.Parallel()
	msg, err := NewMessage(TypeAttendanceMark, markBody{Names: []string{"Jane Doe"}})
	if err != nil {
		t.Fatalf("NewMessage() err=%v", err)
	}
	if msg.ID == "" || msg.Type != TypeAttendanceMark {
		t.Fatalf("NewMessage()=%+v", msg)
	}
	var body markBody
	if err := msg.Decode(&body); err != nil || len(body.Names) != 1 {
		t.Fatalf("Decode()=%+v,%v", body, err)
	}
	if err := (Message{Type: "x", Body: []byte("{")}).Decode(&body); err == nil {
		t.Fatalf("Decode(bad body) err=nil")
	}
}

func TestInMemory(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)

	if err := q.Publish(ctx, Message{Type: TypeAttendanceMark, Body: []byte(`{}`)}); err != nil {
		t.Fatalf("Publish() err=%v", err)
	}
	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() err=%v", err)
	}
	msg := receive(t, ch)
	if msg.ID == "" || msg.Type != TypeAttendanceMark {
		t.Fatalf("received %+v", msg)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("unexpected message after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}

func TestRedisQueue(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewRedisQueue(client, "test:queue")
	q.wait = 100 * time.Millisecond

	first, _ := NewMessage(TypeAttendanceMark, markBody{Names: []string{"Jane Doe"}})
	second, _ := NewMessage(TypeAttendanceMark, markBody{Names: []string{"John Roe"}})
	second.Attempts = 2
	for _, m := range []Message{first, second} {
		if err := q.Publish(ctx, m); err != nil {
			t.Fatalf("Publish() err=%v", err)
		}
	}
	// A foreign entry on the list is skipped.
	mr.Lpush("test:queue", "not json")

	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() err=%v", err)
	}
	if got := receive(t, ch); got.ID != first.ID {
		t.Fatalf("first message=%+v, want id %s", got, first.ID)
	}
	got := receive(t, ch)
	if got.ID != second.ID || got.Attempts != 2 {
		t.Fatalf("second message=%+v, want id %s with 2 attempts", got, second.ID)
	}
	var body markBody
	if err := got.Decode(&body); err != nil || body.Names[0] != "John Roe" {
		t.Fatalf("Decode()=%+v,%v", body, err)
	}
}

package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/tablecast/internal/logger"
)

func TestRedisSourceForwards(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	sink := &fakeSink{n: 1, notify: make(chan struct{}, 4)}
	src := NewRedisSource(client, "tablecast:ingress", sink, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		subs := client.PubSubNumSub(context.Background(), "tablecast:ingress").Val()
		if subs["tablecast:ingress"] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("source never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	pub := func(msg string) {
		if err := client.Publish(context.Background(), "tablecast:ingress", msg).Err(); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	pub(`not json`)
	pub(`{"room":"tenant:R1:waiters","event":"menu_update","data":{"itemId":"i1"}}`)

	select {
	case <-sink.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("message was not forwarded")
	}
	calls := sink.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected only the valid message to reach the sink, got %d", len(calls))
	}
	if calls[0].room != "tenant:R1:waiters" || calls[0].typ != "menu_update" {
		t.Errorf("forwarded %+v", calls[0])
	}
}

func TestRedisSourceStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := NewRedisSource(client, "c", &fakeSink{}, logger.Discard())
	if err := src.Run(ctx); err != nil {
		t.Errorf("Run on cancelled context: %v", err)
	}
}

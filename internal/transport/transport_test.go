package transport

import (
	"context"
	"net"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := bindPort(0)
	if err != nil {
		t.Fatalf("bindPort: %v", err)
	}
	defer ln.Close()
	tcpAddr, ok := ln.ln.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listener address type %T", ln.ln.Addr())
	}
	return tcpAddr.Port
}

func TestPubSubDeliversMatchingTopic(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	opt := DefaultOptions()

	pub, err := newPublisher(port, opt)
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	defer pub.Close(0)

	sub, err := newSubscriber("localhost", port, opt)
	if err != nil {
		t.Fatalf("newSubscriber: %v", err)
	}
	defer sub.Close(0)
	sub.SetSubscriptions([]string{"t"})

	waitForPeer(t, pub)

	if err := pub.Send(ctx, [][]byte{[]byte("t"), []byte("payload")}, time.Second); err != nil {
		t.Fatalf("Send: %v", err)
	}

	frames, err := sub.Recv(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(frames[0]) != "t" || string(frames[1]) != "payload" {
		t.Fatalf("unexpected frames: %q %q", frames[0], frames[1])
	}
}

func TestSubFiltersNonMatchingTopic(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	opt := DefaultOptions()

	pub, err := newPublisher(port, opt)
	if err != nil {
		t.Fatalf("newPublisher: %v", err)
	}
	defer pub.Close(0)

	sub, err := newSubscriber("localhost", port, opt)
	if err != nil {
		t.Fatalf("newSubscriber: %v", err)
	}
	defer sub.Close(0)
	sub.SetSubscriptions([]string{"other"})

	waitForPeer(t, pub)

	if err := pub.Send(ctx, [][]byte{[]byte("t"), []byte("payload")}, time.Second); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := sub.Recv(ctx, 300*time.Millisecond); err != ErrTimeout {
		t.Fatalf("expected ErrTimeout for filtered topic, got %v", err)
	}
}

func TestPushPullRoundTrip(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	opt := DefaultOptions()

	pull, err := newPuller(port, opt)
	if err != nil {
		t.Fatalf("newPuller: %v", err)
	}
	defer pull.Close(0)

	push, err := newPusher("localhost", port, opt)
	if err != nil {
		t.Fatalf("newPusher: %v", err)
	}
	defer push.Close(0)

	time.Sleep(100 * time.Millisecond)

	if err := push.Send(ctx, []byte("hello"), time.Second); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := pull.Recv(ctx, 2*time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestReqRepRoundTrip(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	opt := DefaultOptions()

	rep, err := newResponder(port, opt)
	if err != nil {
		t.Fatalf("newResponder: %v", err)
	}
	defer rep.Close(0)

	go func() {
		sess, err := rep.Accept(ctx)
		if err != nil {
			return
		}
		req, err := sess.Recv(ctx, 2*time.Second)
		if err != nil {
			return
		}
		sess.Send(ctx, append([]byte("echo:"), req...), 2*time.Second)
	}()

	req, err := newRequester("localhost", port, opt)
	if err != nil {
		t.Fatalf("newRequester: %v", err)
	}
	defer req.Close(0)

	reply, err := req.Request(ctx, []byte("ping"), time.Second, time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply) != "echo:ping" {
		t.Fatalf("got %q", reply)
	}
}

func TestRequesterErrorWithNoResponder(t *testing.T) {
	ctx := context.Background()
	port := freePort(t)
	opt := DefaultOptions()
	opt.DialTimeout = 200 * time.Millisecond

	req, err := newRequester("localhost", port, opt)
	if err != nil {
		t.Fatalf("newRequester: %v", err)
	}
	defer req.Close(0)

	if _, err := req.Request(ctx, []byte("ping"), 200*time.Millisecond, 200*time.Millisecond); err == nil {
		t.Fatalf("expected error when no responder is listening")
	}
}

func waitForPeer(t *testing.T, pub *Publisher) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pub.PeerCount() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("publisher never saw a subscriber connect")
}

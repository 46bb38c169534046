package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"main/internal/bus"
)

func main() {
	if err := run(); err != nil {
		log.Printf("busdemo: %v", err)
		os.Exit(1)
	}
}

func run() error {
	role := flag.String("role", "", "pub|sub|push|pull|req|rep")
	serviceName := flag.String("service-name", "busdemo", "service name stamped into envelopes")
	connectHost := flag.String("connect-host", "localhost", "host connect-side sockets dial")
	port := flag.Int("port", bus.GlobalEvents, "socket port")
	topic := flag.String("topic", "demo", "pub/sub topic")
	interval := flag.Duration("interval", time.Second, "delay between publish/push/request sends (pub/push/req only)")
	count := flag.Int("count", 0, "number of messages to send before exiting (0=unbounded, pub/push/req only)")
	flag.Parse()

	if *role == "" {
		return fmt.Errorf("-role is required (pub|sub|push|pull|req|rep)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bus.DefaultConfig(*serviceName)
	cfg.ConnectHost = *connectHost
	b, err := bus.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("bus init failed: %w", err)
	}
	defer b.Cleanup(true)

	switch *role {
	case "pub":
		return runPublisher(ctx, b, *topic, *port, *interval, *count)
	case "sub":
		return runSubscriber(ctx, b, *topic, *port)
	case "push":
		return runPusher(ctx, b, *port, *interval, *count)
	case "pull":
		return runPuller(ctx, b, *port)
	case "req":
		return runRequester(ctx, b, *port, *interval, *count)
	case "rep":
		return runResponder(ctx, b, *port)
	default:
		return fmt.Errorf("unknown role %q", *role)
	}
}

func runPublisher(ctx context.Context, b *bus.MessageBus, topic string, port int, interval time.Duration, count int) error {
	seq := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		seq++
		b.Publish(ctx, topic, map[string]any{"seq": seq}, port)
		log.Printf("published seq=%d", seq)
		if count > 0 && seq >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runSubscriber(ctx context.Context, b *bus.MessageBus, topic string, port int) error {
	b.RegisterHandler(topic, bus.CooperativeHandler(func(topic string, data any) {
		log.Printf("received topic=%s data=%v", topic, data)
	}))
	if err := b.SubscribeLoop(ctx, port, []string{topic}); err != nil {
		return fmt.Errorf("subscribe_loop failed: %w", err)
	}
	<-ctx.Done()
	return nil
}

func runPusher(ctx context.Context, b *bus.MessageBus, port int, interval time.Duration, count int) error {
	seq := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		seq++
		b.PushResult(ctx, map[string]any{"seq": seq}, port)
		log.Printf("pushed seq=%d", seq)
		if count > 0 && seq >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runPuller(ctx context.Context, b *bus.MessageBus, port int) error {
	handler := func(data any) {
		log.Printf("pulled data=%v", data)
	}
	if err := b.PullLoop(ctx, port, handler); err != nil {
		return fmt.Errorf("pull_loop failed: %w", err)
	}
	<-ctx.Done()
	return nil
}

func runRequester(ctx context.Context, b *bus.MessageBus, port int, interval time.Duration, count int) error {
	seq := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		seq++
		reply := b.Request(ctx, map[string]any{"seq": seq}, port)
		if reply == nil {
			log.Printf("request seq=%d: no reply (timeout or unavailable)", seq)
		} else {
			log.Printf("request seq=%d reply=%v", seq, reply)
		}
		if count > 0 && seq >= count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runResponder(ctx context.Context, b *bus.MessageBus, port int) error {
	handler := func(req bus.Request) bus.Reply {
		return bus.Reply{"echo": req.Data, "from": req.Sender}
	}
	if err := b.ResponseLoop(ctx, port, handler); err != nil {
		return fmt.Errorf("response_loop failed: %w", err)
	}
	<-ctx.Done()
	return nil
}

package core

import (
	"context"
	"strconv"
	"testing"
)

func benchmarkRoomBroadcast(b *testing.B, recipients int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil)
	go hub.Run(ctx)

	sender := NewClient("sender", "sender", "", 0)
	hub.RegisterClient(sender)
	sender.Commands <- &Command{Kind: CommandJoinChat, Chat: "bench"}
	go func() {
		for range sender.Events {
		}
	}()

	clients := make([]*Client, 0, recipients)
	for i := range recipients {
		c := NewClient("c"+strconv.Itoa(i), "client"+strconv.Itoa(i), "", 1024)
		hub.RegisterClient(c)
		c.Commands <- &Command{Kind: CommandJoinChat, Chat: "bench"}
		clients = append(clients, c)
	}

	// Drain events for all but the first recipient to avoid channel backpressure.
	target := clients[0]
	for _, c := range clients[1:] {
		go func(cl *Client) {
			for range cl.Events {
			}
		}(c)
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		sender.Commands <- &Command{
			Kind:    CommandSendMessage,
			Chat:    "bench",
			Message: Message{Text: "payload"},
		}
		for ev := range target.Events {
			if ev.Kind == EventNewMessage {
				break
			}
		}
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
func BenchmarkRoomBroadcast_500(b *testing.B) { benchmarkRoomBroadcast(b, 500) }

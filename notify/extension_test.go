package notify_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/xraph/tally"
	"github.com/xraph/tally/entry"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/notify"
	"github.com/xraph/tally/store/memory"
)

type message struct {
	eventType string
	key       string
	payload   []byte
}

type fakePublisher struct {
	mu     sync.Mutex
	sent   []message
	closed bool
}

func (p *fakePublisher) Publish(_ context.Context, eventType string, payload []byte, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, message{eventType: eventType, key: key, payload: payload})
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestPublishesLedgerEvents(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	l := tally.New(memory.New(), tally.WithPlugin(notify.New(pub, notify.WithSource("tips-api"))))
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := l.AppendTransaction(ctx, entry.TopUp{UserID: "u1", Amount: 750}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.AllocateEscrow(ctx, escrow.AllocateInput{ArtistName: "Björk", Amount: 200}); err != nil {
		t.Fatal(err)
	}
	if err := l.Stop(); err != nil {
		t.Fatal(err)
	}

	if len(pub.sent) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.sent))
	}
	if !pub.closed {
		t.Error("publisher not closed on shutdown")
	}

	first := pub.sent[0]
	if first.eventType != notify.EventEntryAppended || first.key != "u1" {
		t.Errorf("first event = %s/%s", first.eventType, first.key)
	}

	var evt struct {
		Type    string `json:"type"`
		Source  string `json:"source"`
		Subject string `json:"subject"`
		Data    struct {
			Amount          int64 `json:"amount"`
			UserBalancePost int64 `json:"user_balance_post"`
		} `json:"data"`
	}
	if err := json.Unmarshal(first.payload, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != notify.EventEntryAppended || evt.Source != "tips-api" || evt.Subject != "0" {
		t.Errorf("envelope = %+v", evt)
	}
	if evt.Data.Amount != 750 || evt.Data.UserBalancePost != 750 {
		t.Errorf("data = %+v", evt.Data)
	}

	if got := pub.sent[1].eventType; got != notify.EventEscrowAllocated {
		t.Errorf("second event = %s, want %s", got, notify.EventEscrowAllocated)
	}
}

func TestEventFilter(t *testing.T) {
	ctx := context.Background()
	pub := &fakePublisher{}
	ext := notify.New(pub, notify.WithEvents(notify.EventEscrowCredited))
	l := tally.New(memory.New(), tally.WithPlugin(ext))
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Stop() }()

	if _, err := l.AppendTransaction(ctx, entry.TopUp{UserID: "u1", Amount: 100}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CreditArtist(ctx, escrow.CreditInput{UserID: "artist", Amount: 100}); err != nil {
		t.Fatal(err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.sent) != 1 || pub.sent[0].eventType != notify.EventEscrowCredited {
		t.Fatalf("sent = %+v", pub.sent)
	}
	if pub.sent[0].key != "artist" {
		t.Errorf("key = %s, want artist", pub.sent[0].key)
	}
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	if _, err := notify.NewKafkaPublisher(nil, nil); err == nil {
		t.Fatal("expected error without brokers")
	}
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		addr    string
		wantErr bool
	}{
		{"host port", "localhost:6379", "localhost:6379", false},
		{"url", "redis://cache:6380/2", "cache:6380", false},
		{"bad url", "redis://cache:6380/notadb", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := notify.Connect(context.Background(), tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer func() { _ = client.Close() }()
			if got := client.Options().Addr; got != tt.addr {
				t.Errorf("Addr = %s, want %s", got, tt.addr)
			}
		})
	}
}

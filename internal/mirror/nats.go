package mirror

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/technosupport/alibi/internal/hub"
)

// Publisher mirrors incident upserts onto a NATS subject for consumers
// outside the process (wallboards, downstream analytics). Entirely
// optional: a nil Publisher is a no-op and ingestion never blocks on it.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

// Connect dials NATS. Callers treat failure as "mirror disabled", matching
// how the server warns and continues when the broker is down.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("alibi-server"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc, subject: subject, maxRetries: 3}, nil
}

// Publish sends one upsert envelope with linear backoff retries.
func (p *Publisher) Publish(msg hub.Message) {
	if p == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("nats mirror marshal: %v", err)
		return
	}

	var last error
	for i := 0; i <= p.maxRetries; i++ {
		if last = p.conn.Publish(p.subject, data); last == nil {
			return
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	log.Printf("nats mirror publish failed after %d retries: %v", p.maxRetries, last)
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Close()
}

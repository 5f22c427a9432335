// Package dispatch delivers oracle requests to oracle nodes, either in
// process or through Kafka, behind a circuit breaker.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"sos/internal/oracle/models"
	"sos/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while the breaker sheds dispatches.
var ErrCircuitOpen = errors.New("oracle dispatch circuit open")

type Dispatcher interface {
	Dispatch(ctx context.Context, req models.OutboundRequest) error
}

// Memory queues requests for an in-process oracle.
type Memory struct {
	mu       sync.Mutex
	requests []models.OutboundRequest
	notify   chan models.OutboundRequest
}

// NewMemory buffers up to size requests on C for a listening oracle. A
// full buffer drops the notification, not the request.
func NewMemory(size int) *Memory {
	return &Memory{notify: make(chan models.OutboundRequest, size)}
}

func (m *Memory) Dispatch(_ context.Context, req models.OutboundRequest) error {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	select {
	case m.notify <- req:
	default:
	}
	return nil
}

// C delivers dispatched requests.
func (m *Memory) C() <-chan models.OutboundRequest {
	return m.notify
}

// Requests returns every request dispatched so far.
func (m *Memory) Requests() []models.OutboundRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OutboundRequest{}, m.requests...)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Kafka publishes requests as JSON, keyed by oracle request id.
type Kafka struct {
	publisher Publisher
	topic     string
}

func NewKafka(publisher Publisher, topic string) *Kafka {
	return &Kafka{publisher: publisher, topic: topic}
}

func (k *Kafka) Dispatch(ctx context.Context, req models.OutboundRequest) error {
	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode oracle request: %w", err)
	}
	headers := map[string]string{
		"job_id": req.JobID.String(),
		"oracle": req.Oracle.Hex(),
	}
	return k.publisher.Publish(ctx, k.topic, req.ID.Bytes(), value, headers)
}

// StateObserver is told when the breaker opens or closes.
type StateObserver func(open bool)

// Guarded wraps a Dispatcher with a circuit breaker.
type Guarded struct {
	next     Dispatcher
	breaker  *circuit.Breaker
	observer StateObserver
}

func NewGuarded(next Dispatcher, breaker *circuit.Breaker, observer StateObserver) *Guarded {
	return &Guarded{next: next, breaker: breaker, observer: observer}
}

func (g *Guarded) Dispatch(ctx context.Context, req models.OutboundRequest) error {
	if !g.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := g.next.Dispatch(ctx, req); err != nil {
		_, change := g.breaker.RecordFailure()
		if change.Opened && g.observer != nil {
			g.observer(true)
		}
		return err
	}
	_, change := g.breaker.RecordSuccess()
	if change.Closed && g.observer != nil {
		g.observer(false)
	}
	return nil
}

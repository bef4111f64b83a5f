package pubsub

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Broker fans solve events out to live scoreboard subscribers. Topics
// are board keys; each subscriber gets a bounded buffered channel and a
// short replay of recent events on attach.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string][]chan []byte
	recent      map[string][][]byte
}

// recentLimit bounds per-topic replay history.
const recentLimit = 64

// SolveEvent is the payload published when a team first solves a
// problem.
type SolveEvent struct {
	TID      string    `json:"tid"`
	TeamName string    `json:"team_name"`
	PID      string    `json:"pid"`
	Problem  string    `json:"problem"`
	Score    int       `json:"score"`
	Time     time.Time `json:"time"`
}

var (
	once   sync.Once
	broker *Broker
)

// GetBroker returns the process-wide broker.
func GetBroker() *Broker {
	once.Do(func() {
		broker = &Broker{
			subscribers: make(map[string][]chan []byte),
			recent:      make(map[string][][]byte),
		}
	})
	return broker
}

// Subscribe attaches to a topic, replaying recent events first.
func (b *Broker) Subscribe(topic string) (<-chan []byte, func()) {
	b.mu.Lock()

	ch := make(chan []byte, 128)
	history := b.recent[topic]
	go func() {
		for _, msg := range history {
			ch <- msg
		}
	}()

	b.subscribers[topic] = append(b.subscribers[topic], ch)
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subscribers[topic]
		for i, sub := range subscribers {
			if sub == ch {
				b.subscribers[topic] = append(subscribers[:i], subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}

	zap.S().Debugf("new subscription to topic %s, sent %d recent events", topic, len(history))
	return ch, unsubscribe
}

// Publish delivers an event to all live subscribers, non-blocking; slow
// clients drop events rather than stalling the publisher.
func (b *Broker) Publish(topic string, msg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recent[topic] = append(b.recent[topic], msg)
	if len(b.recent[topic]) > recentLimit {
		b.recent[topic] = b.recent[topic][len(b.recent[topic])-recentLimit:]
	}

	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// PublishSolve serializes and publishes a solve event to each board
// topic.
func (b *Broker) PublishSolve(event SolveEvent, topics []string) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	for _, topic := range topics {
		b.Publish(topic, data)
	}
}

package pubsub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	b := GetBroker()

	first, cancelFirst := b.Subscribe("board-a")
	defer cancelFirst()
	second, cancelSecond := b.Subscribe("board-a")
	defer cancelSecond()
	other, cancelOther := b.Subscribe("board-b")
	defer cancelOther()

	b.Publish("board-a", []byte("solve"))

	assert.Equal(t, []byte("solve"), receive(t, first))
	assert.Equal(t, []byte("solve"), receive(t, second))

	select {
	case msg := <-other:
		t.Fatalf("unrelated topic received %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeReplaysRecent(t *testing.T) {
	b := GetBroker()
	b.Publish("board-replay", []byte("one"))
	b.Publish("board-replay", []byte("two"))

	ch, cancel := b.Subscribe("board-replay")
	defer cancel()

	assert.Equal(t, []byte("one"), receive(t, ch))
	assert.Equal(t, []byte("two"), receive(t, ch))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := GetBroker()
	ch, cancel := b.Subscribe("board-close")
	cancel()

	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic on the closed channel.
	b.Publish("board-close", []byte("late"))
}

func TestPublishSolveFansOutToAllTopics(t *testing.T) {
	b := GetBroker()
	one, cancelOne := b.Subscribe("fan-1")
	defer cancelOne()
	two, cancelTwo := b.Subscribe("fan-2")
	defer cancelTwo()

	b.PublishSolve(SolveEvent{TID: "t1", TeamName: "plaid", Problem: "rsa", Score: 100}, []string{"fan-1", "fan-2"})

	assert.Contains(t, string(receive(t, one)), `"team_name":"plaid"`)
	assert.Contains(t, string(receive(t, two)), `"problem":"rsa"`)
}

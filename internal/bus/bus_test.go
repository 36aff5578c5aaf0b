package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"conversation-console/internal/models"
)

func TestPublish_DeliversInOrder(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(func(ev Event) {
		if e, ok := ev.(EditRequested); ok {
			got = append(got, "a:"+e.NewText)
		}
	})
	b.Subscribe(func(ev Event) {
		if e, ok := ev.(EditRequested); ok {
			got = append(got, "b:"+e.NewText)
		}
	})

	assert.True(t, b.Publish(EditRequested{MessageID: "1", NewText: "x"}))
	b.Publish(EditRequested{MessageID: "1", NewText: "y"})

	assert.Equal(t, []string{"a:x", "b:x", "a:y", "b:y"}, got)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscribe(func(Event) { calls++ })
	b.Publish(ReadsMarked{MessageIDs: []models.MessageID{"1"}})

	unsub()
	unsub()
	assert.False(t, b.Publish(ReadsMarked{}))
	assert.Equal(t, 1, calls)
}

func TestClose_DropsSubscribers(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(func(Event) { calls++ })
	b.Close()

	assert.False(t, b.Publish(EditRequested{}))
	b.Subscribe(func(Event) { calls++ })
	assert.False(t, b.Publish(EditRequested{}))
	assert.Zero(t, calls)
}

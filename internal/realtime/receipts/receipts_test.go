package receipts

import (
	"testing"
	"time"

	"socialchat/internal/models"

	"github.com/stretchr/testify/assert"
)

var (
	me    = models.UserRef{ID: "me"}
	peer  = models.UserRef{ID: "p"}
	other = models.UserRef{ID: "q"}
	t0    = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
)

func msg(id string, from models.UserRef, at time.Duration, readers ...models.UserRef) models.Message {
	m := models.Message{ID: id, Sender: &from, CreatedAt: t0.Add(at)}
	for _, r := range readers {
		m.ReadBy = append(m.ReadBy, models.ReadReceipt{Reader: r, ReadAt: t0.Add(at + time.Second)})
	}
	return m
}

func TestAggregate_LatestReadWins(t *testing.T) {
	messages := []models.Message{
		msg("m1", me, 1*time.Minute, peer),
		msg("m2", me, 2*time.Minute, peer),
		msg("m3", me, 3*time.Minute, peer),
	}

	v := Aggregate(messages, me.ID)

	assert.Empty(t, v.ReadersOf("m1"))
	assert.Empty(t, v.ReadersOf("m2"))
	if assert.Len(t, v.ReadersOf("m3"), 1) {
		assert.Equal(t, "p", v.ReadersOf("m3")[0].Reader.ID)
	}
	assert.Equal(t, "m3", v.LastRead("p"))

	assert.Equal(t, IndicatorSent, v.Status(messages[0]))
	assert.Equal(t, IndicatorReadBy, v.Status(messages[2]))
}

func TestAggregate_UnsortedInput(t *testing.T) {
	messages := []models.Message{
		msg("m3", me, 3*time.Minute, peer),
		msg("m1", me, 1*time.Minute, peer, other),
		msg("m2", me, 2*time.Minute, peer),
	}

	v := Aggregate(messages, me.ID)

	assert.Equal(t, "m3", v.LastRead("p"))
	assert.Equal(t, "m1", v.LastRead("q"))
	// input untouched
	assert.Equal(t, "m3", messages[0].ID)
}

func TestAggregate_IgnoresOthersAndSelf(t *testing.T) {
	messages := []models.Message{
		msg("m1", me, 1*time.Minute, peer, me),
		msg("m2", peer, 2*time.Minute, me),
		{ID: "sys", CreatedAt: t0.Add(3 * time.Minute)},
	}

	v := Aggregate(messages, me.ID)

	assert.Equal(t, "m1", v.LastRead("p"))
	assert.Empty(t, v.LastRead("me"))
	assert.Len(t, v.ReadersOf("m1"), 1)
	assert.Equal(t, IndicatorNone, v.Status(messages[1]))
	assert.Equal(t, IndicatorNone, v.Status(messages[2]))
}

func TestAggregate_SeveralReadersOnOneMessage(t *testing.T) {
	messages := []models.Message{
		msg("m1", me, 1*time.Minute, other),
		msg("m2", me, 2*time.Minute, peer, other),
		msg("m3", me, 3*time.Minute),
	}

	v := Aggregate(messages, me.ID)

	readers := v.ReadersOf("m2")
	if assert.Len(t, readers, 2) {
		assert.Equal(t, "p", readers[0].Reader.ID)
		assert.Equal(t, "q", readers[1].Reader.ID)
	}
	assert.Equal(t, IndicatorSent, v.Status(messages[0]))
	assert.Equal(t, IndicatorSent, v.Status(messages[2]))
	assert.Equal(t, "sent", IndicatorSent.String())
}

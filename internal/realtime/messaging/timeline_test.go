package messaging

import (
	"testing"

	"socialchat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeline_ApplyNeverDuplicates(t *testing.T) {
	tl := NewTimeline("c1")

	require.True(t, tl.Tentative(models.Message{ID: "m1", Content: "local"}))
	assert.False(t, tl.Tentative(models.Message{ID: "m1"}))
	assert.True(t, tl.Pending("m1"))

	assert.False(t, tl.Apply(models.Message{ID: "m1", Content: "server"}))
	assert.False(t, tl.Pending("m1"))
	assert.False(t, tl.Apply(models.Message{ID: "m1", Content: "again"}))

	msgs := tl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "server", msgs[0].Content)
}

func TestTimeline_ReconcileInsert(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Apply(models.Message{ID: "m0"})
	tl.Tentative(models.Message{ID: "m1"})
	tl.Tentative(models.Message{ID: "m2"})

	tl.Reconcile("m1", false, nil)
	tl.Reconcile("m2", true, &models.Message{ID: "m2", Content: "confirmed"})

	msgs := tl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "m0", msgs[0].ID)
	assert.Equal(t, "confirmed", msgs[1].Content)

	// index stays consistent after removal
	m, ok := tl.Get("m2")
	require.True(t, ok)
	assert.Equal(t, "confirmed", m.Content)
}

func TestTimeline_MutateAndRollback(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Apply(models.Message{ID: "m1", Content: "before"})

	backup, err := tl.Mutate("m1", func(m *models.Message) { m.Content = "after" })
	require.NoError(t, err)
	assert.Equal(t, "before", backup.Content)

	// a confirmed update during the pending mutation survives the rollback
	require.NoError(t, tl.Update("m1", func(m *models.Message) {
		m.Reactions = []models.Reaction{{Type: "like"}}
	}))

	tl.Reconcile("m1", false, nil)

	m, _ := tl.Get("m1")
	assert.Equal(t, "before", m.Content)
	assert.Len(t, m.Reactions, 1)
	assert.False(t, tl.Pending("m1"))
}

func TestTimeline_MutateRules(t *testing.T) {
	tl := NewTimeline("c1")
	_, err := tl.Mutate("missing", func(*models.Message) {})
	assert.ErrorIs(t, err, ErrUnknownMessage)

	tl.Tentative(models.Message{ID: "m1"})
	_, err = tl.Mutate("m1", func(*models.Message) {})
	assert.ErrorIs(t, err, ErrMessagePending)
}

func TestTimeline_LoadKeepsTentative(t *testing.T) {
	tl := NewTimeline("c1")
	tl.Tentative(models.Message{ID: "local"})
	tl.Tentative(models.Message{ID: "m2"})

	tl.Load([]models.Message{{ID: "m1"}, {ID: "m2"}, {ID: "m1"}})

	var ids []string
	for _, m := range tl.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "local"}, ids)
	assert.True(t, tl.Pending("local"))
	assert.False(t, tl.Pending("m2"))
}

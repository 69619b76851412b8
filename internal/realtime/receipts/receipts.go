// Package receipts derives the "read by" view of a conversation: for each
// peer only the latest of my messages they have read carries their avatar.
package receipts

import (
	"sort"

	"socialchat/internal/models"
)

// Indicator is what a message shows next to it
type Indicator int

const (
	IndicatorNone   Indicator = iota // someone else's message
	IndicatorSent                    // mine, nobody's current last-read
	IndicatorReadBy                  // mine, render reader avatars
)

func (i Indicator) String() string {
	switch i {
	case IndicatorSent:
		return "sent"
	case IndicatorReadBy:
		return "read"
	default:
		return ""
	}
}

// View is the aggregated read-receipt state of one message list
type View struct {
	me       string
	lastRead map[string]string                // reader id -> message id
	readers  map[string][]models.ReadReceipt // message id -> readers whose pointer is here
}

// Aggregate walks messages in ascending time order. For each of my
// messages with readers, every reader's last-read pointer is overwritten,
// so later messages win. The pointers are then inverted per message.
func Aggregate(messages []models.Message, me string) View {
	ordered := messages
	if !sortedByTime(messages) {
		ordered = append([]models.Message(nil), messages...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		})
	}

	v := View{
		me:       me,
		lastRead: make(map[string]string),
		readers:  make(map[string][]models.ReadReceipt),
	}

	receipt := make(map[string]models.ReadReceipt)
	for i := range ordered {
		m := &ordered[i]
		if !m.SentBy(me) || len(m.ReadBy) == 0 {
			continue
		}
		for _, r := range m.ReadBy {
			if r.Reader.ID == "" || r.Reader.ID == me {
				continue
			}
			v.lastRead[r.Reader.ID] = m.ID
			receipt[r.Reader.ID] = r
		}
	}

	readerIDs := make([]string, 0, len(v.lastRead))
	for id := range v.lastRead {
		readerIDs = append(readerIDs, id)
	}
	sort.Strings(readerIDs)

	for _, id := range readerIDs {
		msgID := v.lastRead[id]
		v.readers[msgID] = append(v.readers[msgID], receipt[id])
	}
	return v
}

// ReadersOf returns the readers whose last-read message is messageID
func (v View) ReadersOf(messageID string) []models.ReadReceipt {
	return v.readers[messageID]
}

// LastRead returns the id of the latest of my messages readerID has read
func (v View) LastRead(readerID string) string {
	return v.lastRead[readerID]
}

// Status decides what m renders
func (v View) Status(m models.Message) Indicator {
	if !m.SentBy(v.me) {
		return IndicatorNone
	}
	if len(v.readers[m.ID]) > 0 {
		return IndicatorReadBy
	}
	return IndicatorSent
}

func sortedByTime(messages []models.Message) bool {
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			return false
		}
	}
	return true
}

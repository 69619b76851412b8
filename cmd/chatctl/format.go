package main

import (
	"fmt"
	"strings"
	"time"

	"socialchat/internal/models"
	"socialchat/internal/realtime/call"
	"socialchat/internal/realtime/events"
	"socialchat/internal/realtime/receipts"
)

func senderName(m models.Message) string {
	switch {
	case m.Sender == nil:
		return "*"
	case m.Sender.Name != "":
		return m.Sender.Name
	default:
		return m.Sender.ID
	}
}

// formatMessage renders one timeline line
func formatMessage(m models.Message, view receipts.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: ", m.CreatedAt.Local().Format("15:04:05"), senderName(m))

	switch {
	case m.Deleted:
		b.WriteString("(recalled)")
	case m.Type == models.MessageTypeText || m.Type == "":
		b.WriteString(m.Content)
	default:
		fmt.Fprintf(&b, "<%s> %s", m.Type, strings.TrimSpace(m.Content+" "+m.Attachment))
	}

	if r := m.LatestReaction(); r != nil && !m.Deleted {
		fmt.Fprintf(&b, " {%s x%d}", r.Type, len(m.Reactions))
	}

	switch view.Status(m) {
	case receipts.IndicatorReadBy:
		fmt.Fprintf(&b, "  [read by %s]", readerNames(view.ReadersOf(m.ID)))
	case receipts.IndicatorSent:
		b.WriteString("  [sent]")
	}
	return b.String()
}

func readerNames(readers []models.ReadReceipt) string {
	names := make([]string, 0, len(readers))
	for _, r := range readers {
		if r.Reader.Name != "" {
			names = append(names, r.Reader.Name)
		} else {
			names = append(names, r.Reader.ID)
		}
	}
	return strings.Join(names, ", ")
}

func formatOffer(o events.CallOffer) string {
	kind := "audio"
	if o.IsVideo {
		kind = "video"
	}
	who := o.Caller
	if o.CallerInfo != nil && o.CallerInfo.Name != "" {
		who = o.CallerInfo.Name
	}
	return fmt.Sprintf("incoming %s call from %s in %s", kind, who, o.ConversationID)
}

// formatSnapshot renders one call state change
func formatSnapshot(s call.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s call in %s: %s", s.Direction, s.Kind, s.ConversationID, s.State)
	if s.Caller != nil && s.Direction == models.CallIncoming {
		name := s.Caller.Name
		if name == "" {
			name = s.Caller.ID
		}
		fmt.Fprintf(&b, " (from %s)", name)
	}
	if s.Reason != "" {
		fmt.Fprintf(&b, " - %s", s.Reason)
	}
	if s.Duration > 0 {
		fmt.Fprintf(&b, " after %s", s.Duration.Round(time.Second))
	}
	return b.String()
}

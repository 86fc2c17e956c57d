// Package expiry is the lifecycle of an ephemeral message:
//
//	Pending --markSeen--> Counting --deadline--> Expired
//	                         |
//	                         +--mutual save--> Preserved
//
// Nothing here runs on a timer. Every state is derived from the stored
// timestamps and the caller's notion of now, so any number of server
// instances agree on visibility without coordination, and a restart loses
// nothing. Store backends apply these transitions inside a single
// conditional update per message.
package expiry

import (
	"time"

	"github.com/VinMeld/go-dm/internal/models"
)

// SeenTTL is how long a message stays visible after the receiver saw it.
const SeenTTL = 5 * time.Minute

// State is the lifecycle state of a message at a given instant.
type State int

const (
	Pending State = iota
	Counting
	Expired
	Preserved
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Counting:
		return "counting"
	case Expired:
		return "expired"
	case Preserved:
		return "preserved"
	}
	return "unknown"
}

// IsVisible reports whether m may be returned by any read path at now.
// A message is gone from the instant its deadline is reached.
func IsVisible(m *models.Message, now time.Time) bool {
	return m.ExpiresAt == nil || now.Before(*m.ExpiresAt)
}

// StateOf derives the lifecycle state of m at now.
func StateOf(m *models.Message, now time.Time) State {
	switch {
	case !IsVisible(m, now):
		return Expired
	case !m.IsSeen:
		return Pending
	case m.ExpiresAt != nil:
		return Counting
	default:
		// Seen with no deadline: either mutually saved, or a mutual save
		// that was later broken. Both stay preserved.
		return Preserved
	}
}

// Deadline is the expiry instant for a message seen at seenAt.
func Deadline(seenAt time.Time) time.Time {
	return seenAt.Add(SeenTTL)
}

// MarkSeen applies the Pending -> Counting transition. It is a no-op
// returning false when m was already seen; the countdown is never reset.
// A message both parties saved before it was seen gets no deadline.
func MarkSeen(m *models.Message, now time.Time) bool {
	if m.IsSeen {
		return false
	}
	seenAt := now
	m.IsSeen = true
	m.SeenAt = &seenAt
	if m.MutuallySaved() {
		m.ExpiresAt = nil
	} else {
		deadline := Deadline(seenAt)
		m.ExpiresAt = &deadline
	}
	return true
}

// SetSaved sets one party's save flag and recomputes the deadline. Only a
// mutual save clears it; breaking a mutual save does not bring a deadline
// back. It returns whether anything changed.
func SetSaved(m *models.Message, party models.Party, saved bool) bool {
	var flag *bool
	switch party {
	case models.PartySender:
		flag = &m.IsSavedBySender
	case models.PartyReceiver:
		flag = &m.IsSavedByReceiver
	default:
		return false
	}
	if *flag == saved {
		return false
	}
	*flag = saved
	if m.MutuallySaved() {
		m.ExpiresAt = nil
	}
	return true
}

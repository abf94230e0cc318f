// Package chat implements message dispatch rules for C6: target
// resolution (channel vs DM), the moderation gates (silence, write
// permission, DM blocking), truncation, and the typed outcomes the
// Design Notes prescribe in place of exception-driven control flow.
// The actual enqueue/broadcast calls stay with the caller (the bancho
// orchestration layer), which already holds the stream/channel
// registries; this package is pure decision logic so it can be unit
// tested without wiring a fake network.
package chat

import "strings"

// MaxMessageBytes is the §4.6 truncation threshold.
const MaxMessageBytes = 2000

// Outcome is the typed result of a send attempt, replacing exception
// control flow per the Design Notes.
type Outcome int

const (
	OutcomeChannelSent Outcome = iota
	OutcomeDirectSent
	OutcomeSilenced
	OutcomeNoPermission
	OutcomeUnknownTarget
	OutcomeBlockedDM
)

// Target classifies the recipient: channels start with '#'.
func IsChannelTarget(target string) bool {
	return strings.HasPrefix(target, "#")
}

// Truncate enforces the 2000-byte cap, returning the possibly-shortened
// message and whether truncation occurred (the caller warns on true).
func Truncate(message string) (string, bool) {
	if len(message) <= MaxMessageBytes {
		return message, false
	}
	return message[:MaxMessageBytes], true
}

// SenderState is the subset of Session fields send() gates on.
type SenderState struct {
	Silenced bool
}

// ChannelState is the subset of Channel fields send() gates on.
type ChannelState struct {
	Exists      bool
	PublicWrite bool
	IsStaff     bool
}

// CheckChannelSend enforces §4.6's channel-send preconditions: sender
// must not be silenced and must have write permission (public_write, or
// staff on a non-public_write channel).
func CheckChannelSend(sender SenderState, ch ChannelState) Outcome {
	if sender.Silenced {
		return OutcomeSilenced
	}
	if !ch.Exists {
		return OutcomeUnknownTarget
	}
	if !ch.PublicWrite && !ch.IsStaff {
		return OutcomeNoPermission
	}
	return OutcomeChannelSent
}

// RecipientState is the subset of a DM target's Session fields send()
// gates on.
type RecipientState struct {
	Exists            bool
	BlockNonFriendsDM bool
	SenderIsFriend    bool
}

// CheckDirectSend enforces §4.6's DM preconditions: sender must not be
// silenced, the target must exist, and if the target blocks non-friend
// DMs the sender must be a friend.
func CheckDirectSend(sender SenderState, recipient RecipientState) Outcome {
	if sender.Silenced {
		return OutcomeSilenced
	}
	if !recipient.Exists {
		return OutcomeUnknownTarget
	}
	if recipient.BlockNonFriendsDM && !recipient.SenderIsFriend {
		return OutcomeBlockedDM
	}
	return OutcomeDirectSent
}

// RenderLine is the line appended to the sender's messages_buffer ring,
// matching the server's own rendering of `from: message`.
func RenderLine(fromUsername, message string) string {
	return fromUsername + ": " + message
}

package model

import "errors"

// Wire errors (C1).
var (
	ErrMalformedPacket = errors.New("malformed packet")
	ErrShortRead        = errors.New("short read")
	ErrUnknownPacketID  = errors.New("unknown packet id")
)

// Coordination errors (C2, C9).
var (
	ErrLockTimeout   = errors.New("lock acquisition timed out")
	ErrKVUnavailable = errors.New("kv store unavailable")
)

// Handler-local errors (C4-C8), converted to protocol replies at the call site.
var (
	ErrUserNotFound            = errors.New("user not found")
	ErrTokenNotFound            = errors.New("token not found")
	ErrChannelUnknown           = errors.New("channel unknown")
	ErrUserAlreadyInChannel     = errors.New("user already in channel")
	ErrChannelNoPermissions     = errors.New("no permission for channel")
	ErrQueueOverflow            = errors.New("outbound queue overflow")
	ErrMatchDisposed            = errors.New("match disposed")
	ErrMatchSlotsFull           = errors.New("match has no free slots")
	ErrMatchPasswordMismatch    = errors.New("match password mismatch")
	ErrNotHost                  = errors.New("action requires host privileges")
	ErrTargetBlockingDMs        = errors.New("target is blocking direct messages")
	ErrSilenced                 = errors.New("sender is silenced")
)

package models

import "errors"

// Admission errors: rejected synchronously, no state change, safe to retry.
var (
	ErrRateLimited       = errors.New("identity is rate limited")
	ErrInvalidSignature  = errors.New("signature does not verify for identity")
	ErrBelowMinimumValue = errors.New("order value below configured minimum")
)

// Protocol errors: rejected, caller must resubmit via a fresh commit.
var (
	ErrUnknownCommitment = errors.New("commitment not found")
	ErrAlreadyRevealed   = errors.New("commitment already revealed")
	ErrRevealTooSoon     = errors.New("reveal before minimum delay elapsed")
	ErrRevealExpired     = errors.New("reveal after commitment expiry")
	ErrNonceReplay       = errors.New("nonce already consumed for identity")
)

// Integrity errors: rejected and escalated as a manipulation finding,
// since a mismatch after commitment strongly suggests tampering.
var ErrCommitmentMismatch = errors.New("revealed order does not match stored commitment hash")

// Execution errors.
var (
	ErrWindowClosed    = errors.New("batch window no longer accepting orders")
	ErrWindowFailed    = errors.New("window execution failed and was rolled back")
	ErrIdentityBlocked = errors.New("identity temporarily blocked after repeated violations")
)

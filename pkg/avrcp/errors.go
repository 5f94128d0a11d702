package avrcp

import (
	"errors"
	"fmt"

	"github.com/muxable/avrcp/pkg/avc"
)

var (
	ErrBusy                 = errors.New("avrcp: a request is already outstanding")
	ErrTimeout              = errors.New("avrcp: no response before watchdog expiry")
	ErrRejected             = errors.New("avrcp: rejected by peer")
	ErrNoResource           = errors.New("avrcp: transport cannot accept write")
	ErrNotConnected         = errors.New("avrcp: session not connected")
	ErrContinuationMismatch = errors.New("avrcp: no continuation parked for pdu")
	ErrInvalidState         = errors.New("avrcp: invalid session state transition")
	ErrFrameTooLarge        = errors.New("avrcp: av/c frame exceeds 512 bytes")
	ErrNotRegistered        = errors.New("avrcp: peer has not registered for event")
	ErrNoScheduler          = errors.New("avrcp: session has no scheduler")
)

// RejectedError is a negative response from the peer. It matches ErrRejected.
type RejectedError struct {
	Code avc.ResponseCode
	// Status is the error code carried by rejected Metadata-Transfer responses.
	Status    avc.ErrorCode
	HasStatus bool
}

func (e *RejectedError) Error() string {
	if e.HasStatus {
		return fmt.Sprintf("avrcp: peer responded %s (status %#04x)", e.Code, uint8(e.Status))
	}
	return fmt.Sprintf("avrcp: peer responded %s", e.Code)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

package services

import (
	"context"
)

// Event types published by LicenseService
const (
	EventLicenseLoaded   = "license:loaded"
	EventLicenseRejected = "license:rejected"
	EventSessionStarted  = "session:started"
	EventSessionEnded    = "session:ended"
)

// EventPublisher receives license and session events. Publish must not
// block.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data any)
}

// LicenseEvent is the payload of the license:* events.
type LicenseEvent struct {
	Source string `json:"source"`
	Size   int    `json:"size,omitempty"`
	Code   string `json:"code,omitempty"`
}

// SessionEndedEvent is the payload of session:ended.
type SessionEndedEvent struct {
	SessionID string `json:"session_id"`
}

// SetPublisher routes events to p; nil stops publishing.
func (s *LicenseService) SetPublisher(p EventPublisher) {
	s.listenersMu.Lock()
	s.publisher = p
	s.listenersMu.Unlock()
}

func (s *LicenseService) publish(ctx context.Context, eventType string, data any) {
	s.listenersMu.Lock()
	p := s.publisher
	s.listenersMu.Unlock()
	if p != nil {
		p.Publish(ctx, eventType, data)
	}
}

package backend

import "encoding/json"

// Envelope is the {success, data, error, code} wrapper both HTTP generation
// APIs answer with.
type Envelope struct {
	Success  bool             `json:"success"`
	Data     json.RawMessage  `json:"data,omitempty"`
	Error    string           `json:"error,omitempty"`
	Code     string           `json:"code,omitempty"`
	Metadata EnvelopeMetadata `json:"metadata,omitzero"`
}

// EnvelopeMetadata carries the optional telemetry some backends report.
type EnvelopeMetadata struct {
	TokensUsed     int   `json:"tokensUsed,omitempty"`
	ProcessingTime int64 `json:"processingTime,omitempty"`
	CacheHit       bool  `json:"cacheHit,omitempty"`
}

// Response converts the envelope into a [Response], or into a
// [*TransportError] of kind [KindRemote] or [KindRateLimit] when the envelope
// reports failure.
func (e *Envelope) Response(backend, operation string) (*Response, error) {
	if !e.Success {
		msg := e.Error
		if msg == "" {
			msg = "backend reported failure"
		}
		return nil, NewError(KindForRemoteCode(e.Code), backend, operation, msg, nil)
	}
	return &Response{
		Data:             NormalizeData(e.Data),
		TokensUsed:       e.Metadata.TokensUsed,
		ProcessingTimeMS: e.Metadata.ProcessingTime,
		CacheHit:         e.Metadata.CacheHit,
	}, nil
}

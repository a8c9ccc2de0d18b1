package resilience

import (
	"context"

	"github.com/cliniscribe/cliniscribe/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across transcription
// backends, so a visit recording still gets transcribed when the streaming
// provider refuses the connection. Failover covers opening the stream only;
// an established stream that dies mid-visit surfaces to the session.
//
// The embedded group promotes [FallbackGroup.AddFallback] for registration.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.Kind = "stt"
	return &STTFallback{FallbackGroup: NewFallbackGroup(primary, primaryName, cfg)}
}

// StartStream opens a transcription session against the first healthy backend.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

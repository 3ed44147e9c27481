package session

import (
	"context"
	"strings"

	"live-transcript-service/internal/models"
	"live-transcript-service/internal/service/diarization"
	"live-transcript-service/internal/service/engine"
)

// dispatcher applies engine messages to one session. Messages for a session
// that has been replaced or has failed are dropped.
type dispatcher struct {
	c *Controller
	s *session
}

var _ engine.Handler = (*dispatcher)(nil)

// locked runs fn under the controller lock if the session is still current,
// then runs the listener calls it queued.
func (d *dispatcher) locked(fn func(b *batch)) {
	var b batch
	d.c.mu.Lock()
	if d.c.sess == d.s && d.s.state != StateError {
		fn(&b)
	}
	d.c.mu.Unlock()
	b.run()
}

// resolve maps an engine speaker label to a persistent id. The lookup runs
// outside the controller lock. ok is false when the registry failed and the
// raw label was used instead.
func (d *dispatcher) resolve(label string) (id string, ok bool) {
	label = strings.TrimSpace(label)
	if label == "" || d.c.registry == nil {
		return label, true
	}
	ctx, cancel := context.WithTimeout(d.s.ctx, d.c.opts.ResolveTimeout)
	defer cancel()
	id, err := d.c.registry.Resolve(ctx, label, d.s.id)
	if err != nil {
		d.s.logger.Warn().Err(err).Str("label", label).Msg("Speaker resolution failed, using engine label")
		return label, false
	}
	return id, true
}

func (d *dispatcher) OnReady(m engine.Ready) {
	d.locked(func(b *batch) {
		s := d.s
		if s.state != StateStarting || s.phase != PhaseAwaitingReady {
			s.logger.Debug().Str("state", s.state.String()).Msg("Ignoring ready outside startup")
			return
		}
		s.logger.Info().Str("engineModel", m.Model).Msg("Engine ready")
		d.c.activateLocked(s, false, b)
	})
}

func (d *dispatcher) OnStatus(m engine.Status) {
	if m.Filtered || m.NoVoice {
		d.s.logger.Debug().Str("message", m.Message).Bool("noVoice", m.NoVoice).Msg("Engine status")
		return
	}
	d.locked(func(b *batch) {
		d.c.progressLocked(d.s, b, Progress{Kind: ProgressStatus, Message: m.Message, Progress: m.Progress})
	})
}

func (d *dispatcher) OnSegment(m engine.Segment) {
	label := strings.TrimSpace(m.Speaker)
	speakerID, resolved := d.resolve(label)

	d.locked(func(b *batch) {
		s := d.s
		id, err := s.tracker.Observe(m.IsFinal)
		if err != nil {
			s.logger.Debug().Err(err).Msg("Segment after tracker closed")
			return
		}

		off := s.offset()
		seg := models.TranscriptSegment{
			ID:                id,
			SessionID:         s.id,
			Text:              m.Text,
			Start:             m.Start + off,
			End:               m.End + off,
			Confidence:        m.Confidence,
			IsFinal:           m.IsFinal,
			SpeakerLabel:      label,
			SpeakerID:         speakerID,
			SpeakerConfidence: m.SpeakerConfidence,
			Fallback:          !resolved,
		}
		switch {
		case label != "" && resolved:
			s.lastSpeaker = speakerID
		case label == "" && s.cfg.Diarization && s.lastSpeaker != "" && d.c.monitor.State().HasWarning:
			seg.SpeakerID = s.lastSpeaker
			seg.Fallback = true
		}

		d.c.metrics.RecordTranscript(seg.IsFinal, seg.Fallback)
		b.add(func() { d.c.segmentL.emit(seg) })
	})
}

func (d *dispatcher) OnSpeakerSegment(m engine.SpeakerSegment) {
	speakerID, _ := d.resolve(m.Speaker)
	if speakerID == "" {
		speakerID = models.UnknownSpeaker
	}
	d.locked(func(b *batch) {
		off := d.s.offset()
		seg := models.DiarizationSegment{
			SpeakerID:  speakerID,
			Start:      m.Start + off,
			End:        m.End + off,
			Confidence: m.Confidence,
		}
		b.add(func() { d.c.diarSegmentL.emit(seg) })
	})
}

func (d *dispatcher) OnSpeakerChange(m engine.SpeakerChange) {
	d.locked(func(b *batch) {
		ch := models.SpeakerChange{
			SessionID:   d.s.id,
			FromSpeaker: m.FromSpeaker,
			ToSpeaker:   m.ToSpeaker,
			Timestamp:   m.Timestamp + d.s.offset(),
		}
		b.add(func() { d.c.speakerL.emit(ch) })
	})
}

func (d *dispatcher) OnDiarizationAvailable(m engine.DiarizationAvailable) {
	d.locked(func(b *batch) {
		s := d.s
		s.availability = Availability{
			SessionID: s.id,
			Known:     true,
			Available: true,
			Backend:   m.Backend,
			Message:   m.Message,
		}
		d.c.metrics.SetDiarizationAvailable(true)
		s.logger.Info().Str("backend", m.Backend).Msg("Diarization available")
		a := s.availability
		b.add(func() { d.c.availabilityL.emit(a) })
	})
}

func (d *dispatcher) OnDiarizationUnavailable(m engine.DiarizationUnavailable) {
	reason, msg := ClassifyUnavailable(m.Reason, m.Details)
	d.locked(func(b *batch) {
		s := d.s
		s.availability = Availability{
			SessionID: s.id,
			Known:     true,
			Reason:    reason,
			Message:   msg,
			Details:   m.Details,
		}
		d.c.metrics.SetDiarizationAvailable(false)
		s.logger.Warn().
			Str("reason", string(reason)).
			Str("engineReason", m.Reason).
			Msg("Diarization unavailable, transcribing without speakers")
		a := s.availability
		b.add(func() { d.c.availabilityL.emit(a) })
	})
}

func (d *dispatcher) OnHealthWarning(m engine.HealthWarning) {
	d.locked(func(*batch) {
		d.c.monitor.ApplyWarning(diarization.Warning{
			Message:             m.Message,
			Reason:              m.Reason,
			ConsecutiveFailures: m.ConsecutiveFailures,
			TotalFailures:       m.TotalFailures,
			Recoverable:         m.Recoverable,
			Recommendation:      m.Recommendation,
		})
		d.c.metrics.RecordDiarizationWarning()
	})
}

func (d *dispatcher) OnHealthRecovery(m engine.HealthRecovery) {
	d.locked(func(*batch) {
		if d.c.monitor.ApplyRecovery(diarization.Recovery{
			Message:           m.Message,
			PreviousFailures:  m.PreviousFailures,
			SegmentsProcessed: m.SegmentsProcessed,
		}) {
			d.c.metrics.RecordDiarizationRecovery()
		}
	})
}

func (d *dispatcher) OnSerializationError(m engine.SerializationError) {
	d.s.logger.Warn().Str("message", m.Message).Msg("Engine failed to serialize a result")
}

func (d *dispatcher) OnError(m engine.Error) {
	d.locked(func(b *batch) {
		msg := m.Message
		if m.Code != "" {
			msg = m.Code + ": " + msg
		}
		d.c.metrics.RecordEngineCrash(string(engine.CrashReported))
		d.c.failLocked(d.s, &engine.EngineError{Kind: engine.CrashReported, Message: msg}, b)
	})
}

func (d *dispatcher) OnComplete(m engine.Complete) {
	d.locked(func(b *batch) {
		d.s.logger.Info().Int("engineSegments", m.TotalSegments).Float64("duration", m.Duration).Msg("Engine complete")
		d.c.progressLocked(d.s, b, Progress{Kind: ProgressComplete, Progress: 1})
	})
}

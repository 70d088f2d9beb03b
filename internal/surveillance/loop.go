package surveillance

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/events"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/motion"
	"github.com/tphakala/motioncam/internal/observability/metrics"
	"github.com/tphakala/motioncam/internal/recorder"
)

// Event types recorded in session file names.
const (
	EventMotion = "motion"
	EventManual = "manual"
)

// Stop reasons beyond the recorder's own.
const (
	stopReasonManual   = "manual"
	stopReasonShutdown = "shutdown"
)

func (s *System) loop(ctx context.Context) {
	defer close(s.loopDone)
	defer s.rejectCommands()
	defer s.running.Store(false)
	defer s.stopActiveRecording(context.WithoutCancel(ctx), stopReasonShutdown)

	for {
		if ctx.Err() != nil {
			return
		}
		s.drainCommands(ctx)

		if err := s.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logLoopError(err)
			sleepCtx(ctx, s.cfg.ErrorBackoff)
		}
	}
}

// iterate processes one frame: detect, drive the recording lifecycle and run
// periodic retention.
func (s *System) iterate(ctx context.Context) error {
	frame, err := s.camera.NextLowresFrame(ctx)
	if err != nil {
		s.motionMetrics.RecordFrameError(string(errors.CategoryCamera))
		return errors.New(err).
			Component(componentName).
			Category(errors.CategoryCamera).
			Context("operation", "next_frame").
			Build()
	}
	if frame == nil {
		sleepCtx(ctx, s.cfg.IdleSleep)
		return nil
	}

	start := time.Now()
	result, err := s.detector.ProcessFrame(frame.Data)
	if err != nil {
		s.motionMetrics.RecordFrameError(string(errors.CategoryValidation))
		return err
	}
	s.motionMetrics.RecordFrame(time.Since(start).Seconds(), result.Triggered, zoneMSE(result.Zones))
	s.framesProcessed.Add(1)
	s.frames++

	s.trackTrigger(result)

	if err := s.driveRecording(ctx, result.Triggered); err != nil {
		return err
	}

	if s.frames%uint64(s.cfg.CleanupInterval) == 0 {
		s.runCleanup(ctx)
	}
	return nil
}

// trackTrigger publishes motion events on the edges of the debounced trigger.
func (s *System) trackTrigger(result motion.Result) {
	if result.Triggered == s.triggered {
		return
	}
	s.triggered = result.Triggered

	if result.Triggered {
		s.motionMetrics.RecordTrigger()
	}
	s.publish(events.KindMotion, "", events.Motion{
		Triggered: result.Triggered,
		Zones:     zonesInMotion(result.Zones),
		Threshold: s.detector.Threshold(),
	})
}

// driveRecording applies the lifecycle decisions for one frame. Manual
// sessions ignore the post-record timeout but still rotate.
func (s *System) driveRecording(ctx context.Context, triggered bool) error {
	if s.recorder.ShouldStartRecording(triggered) {
		return s.startRecording(EventMotion)
	}

	reason := s.recorder.ShouldStopRecording(triggered || s.manual, s.cfg.Framerate)
	if reason == recorder.StopNone {
		return nil
	}

	wasManual := s.manual
	s.stopRecording(ctx, reason.String())

	if reason == recorder.StopSegmentRotation {
		switch {
		case wasManual:
			return s.startRecording(EventManual)
		case triggered:
			return s.startRecording(EventMotion)
		}
	}
	return nil
}

// startRecording opens a session and forwards its path to the camera. The
// session is committed once the camera accepts it; when the camera refuses it
// is aborted so the next frame retries.
func (s *System) startRecording(eventType string) error {
	sess, err := s.recorder.StartRecording(eventType)
	if err != nil {
		return err
	}

	if !s.camera.StartRecording(sess.Path) {
		s.recorder.AbortRecording()
		s.recorderMetrics.RecordCameraFailure("start")
		return errors.Newf("camera refused to start recording").
			Component(componentName).
			Category(errors.CategoryCamera).
			Context("operation", "start_recording").
			Context("session_id", sess.ID).
			Build()
	}

	s.recorder.CommitRecording()
	s.manual = eventType == EventManual
	s.recorderMetrics.RecordStart(eventType)
	s.publish(events.KindRecording, "", events.Recording{
		Action:    events.RecordingStarted,
		SessionID: sess.ID,
		File:      filepath.Base(sess.Path),
		EventType: eventType,
	})
	return nil
}

// stopRecording stops the camera then the recorder and checks storage.
func (s *System) stopRecording(ctx context.Context, reason string) (recorder.Session, bool) {
	if !s.camera.StopRecording() {
		s.recorderMetrics.RecordCameraFailure("stop")
		s.log.Warn("Camera was not recording when asked to stop", logger.String("reason", reason))
	}

	sess, ok := s.recorder.StopRecording()
	s.manual = false
	if !ok {
		return recorder.Session{}, false
	}

	var size int64
	if info, err := os.Stat(sess.Path); err == nil {
		size = info.Size()
	}
	duration := time.Since(sess.Start)
	s.recorderMetrics.RecordStop(reason, duration.Seconds(), size)
	s.publish(events.KindRecording, "", events.Recording{
		Action:          events.RecordingStopped,
		SessionID:       sess.ID,
		File:            filepath.Base(sess.Path),
		EventType:       sess.EventType,
		Reason:          reason,
		DurationSeconds: duration.Seconds(),
		Bytes:           size,
	})

	s.checkStorage(ctx)
	return sess, true
}

func (s *System) stopActiveRecording(ctx context.Context, reason string) {
	if _, active := s.recorder.Current(); !active {
		return
	}
	s.stopRecording(ctx, reason)
}

// checkStorage runs the storage check after a session ends. Failures are
// logged; the loop keeps running.
func (s *System) checkStorage(ctx context.Context) {
	stats, err := s.storage.CheckStorage(ctx)
	if err != nil {
		s.diskMetrics.RecordStorageCheckError()
		s.log.Warn("Storage check failed", logger.Error(err))
		return
	}
	s.diskMetrics.UpdateStorage(stats.RecordedBytes, stats.RecordingsCount, stats.UsagePercent,
		stats.DiskFreeBytes, stats.DiskTotalBytes, stats.LowFreeSpace)
}

func (s *System) runCleanup(ctx context.Context) {
	start := time.Now()
	res, err := s.storage.Cleanup(ctx)
	s.diskMetrics.RecordCleanup(metrics.PolicyAge, res.Deleted, res.Failed, res.FreedBytes, time.Since(start).Seconds(), err)
	if err != nil {
		s.log.Warn("Retention cleanup failed", logger.Error(err))
		return
	}
	if res.Deleted > 0 {
		s.log.Info("Retention cleanup removed expired recordings",
			logger.Int("deleted", res.Deleted),
			logger.Int64("freed_bytes", res.FreedBytes))
	}
}

// logLoopError logs per-iteration errors through a rate limiter so a dead
// camera does not flood the log at one line per backoff.
func (s *System) logLoopError(err error) {
	if !s.errLimit.Allow() {
		s.errMuted++
		return
	}
	fields := []logger.Field{logger.Error(err)}
	if s.errMuted > 0 {
		fields = append(fields, logger.Int("suppressed", s.errMuted))
		s.errMuted = 0
	}
	s.log.Warn("Frame loop iteration failed", fields...)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func zoneMSE(zones []motion.ZoneResult) map[string]float64 {
	out := make(map[string]float64, len(zones))
	for _, z := range zones {
		out[z.Name] = z.MSE
	}
	return out
}

func zonesInMotion(zones []motion.ZoneResult) []string {
	var names []string
	for _, z := range zones {
		if z.Motion {
			names = append(names, z.Name)
		}
	}
	return names
}

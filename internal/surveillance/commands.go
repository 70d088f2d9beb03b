package surveillance

import (
	"context"

	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
	"github.com/tphakala/motioncam/internal/recorder"
)

type commandKind int

const (
	cmdStartRecording commandKind = iota
	cmdStopRecording
)

// command is a manual recording request routed to the frame loop so that
// recording state stays owned by the loop goroutine.
type command struct {
	kind  commandKind
	reply chan commandResult
}

type commandResult struct {
	session recorder.Session
	changed bool // false when the request was already satisfied
	err     error
}

// StartManualRecording starts a manual session. When a session is already
// active it is returned unchanged with started=false.
func (s *System) StartManualRecording(ctx context.Context) (sess recorder.Session, started bool, err error) {
	res, err := s.submit(ctx, cmdStartRecording)
	return res.session, res.changed, err
}

// StopManualRecording stops the active session, whatever started it. When
// idle it returns stopped=false.
func (s *System) StopManualRecording(ctx context.Context) (sess recorder.Session, stopped bool, err error) {
	res, err := s.submit(ctx, cmdStopRecording)
	return res.session, res.changed, err
}

// submit hands a command to the frame loop and waits for its reply. A loop
// that exits while the command is queued or executing answers with a state
// error instead of leaving the caller blocked.
func (s *System) submit(ctx context.Context, kind commandKind) (commandResult, error) {
	s.mu.Lock()
	loopDone := s.loopDone
	s.mu.Unlock()

	if loopDone == nil || !s.Running() {
		return commandResult{}, errNotRunning("surveillance is not running")
	}

	cmd := command{kind: kind, reply: make(chan commandResult, 1)}
	select {
	case s.commands <- cmd:
	case <-loopDone:
		return commandResult{}, errNotRunning("surveillance stopped")
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}

	select {
	case res := <-cmd.reply:
		return res, res.err
	case <-loopDone:
		// rejectCommands may have answered just before the loop closed
		select {
		case res := <-cmd.reply:
			return res, res.err
		default:
			return commandResult{}, errNotRunning("surveillance stopped")
		}
	case <-ctx.Done():
		return commandResult{}, ctx.Err()
	}
}

func errNotRunning(msg string) error {
	return errors.Newf("%s", msg).
		Component(componentName).
		Category(errors.CategoryState).
		Build()
}

// drainCommands executes queued commands on the loop goroutine.
func (s *System) drainCommands(ctx context.Context) {
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- s.execute(ctx, cmd.kind)
		default:
			return
		}
	}
}

// rejectCommands answers commands left in the queue when the loop exits.
func (s *System) rejectCommands() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- commandResult{err: errNotRunning("surveillance stopped")}
		default:
			return
		}
	}
}

func (s *System) execute(ctx context.Context, kind commandKind) commandResult {
	switch kind {
	case cmdStartRecording:
		if cur, active := s.recorder.Current(); active {
			return commandResult{session: cur}
		}
		if err := s.startRecording(EventManual); err != nil {
			return commandResult{err: err}
		}
		cur, _ := s.recorder.Current()
		s.log.Info("Manual recording started", logger.String("session_id", cur.ID))
		return commandResult{session: cur, changed: true}

	case cmdStopRecording:
		if _, active := s.recorder.Current(); !active {
			return commandResult{}
		}
		sess, ok := s.stopRecording(ctx, stopReasonManual)
		if ok {
			s.log.Info("Manual recording stopped", logger.String("session_id", sess.ID))
		}
		return commandResult{session: sess, changed: ok}
	}

	return commandResult{err: errors.Newf("unknown command %d", kind).
		Component(componentName).
		Category(errors.CategoryValidation).
		Build()}
}

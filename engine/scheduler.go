package engine

import (
	"context"
	"time"

	"github.com/rs/xid"

	"github.com/sig-0/go-qbft/message"
)

// buildTask is an in-flight block construction
type buildTask struct {
	id     xid.ID
	cancel context.CancelFunc
}

// scheduler runs round timers and block construction for the sequencer. It
// is only called from the Run goroutine; its timers and builders report back
// through the event queue
type scheduler struct {
	e     *Engine
	ctx   context.Context
	timer *time.Timer
	build *buildTask
}

func newScheduler(e *Engine) *scheduler {
	return &scheduler{e: e, ctx: context.Background()}
}

func (s *scheduler) start(ctx context.Context) {
	s.ctx = ctx
}

func (s *scheduler) stop() {
	s.stopTimer()
	s.cancelBuild()
}

// ScheduleTimeout arms the round timer for view, replacing the armed one
func (s *scheduler) ScheduleTimeout(view message.View, d time.Duration) {
	s.stopTimer()

	ctx := s.ctx
	s.timer = time.AfterFunc(d, func() {
		s.enqueue(ctx, timeoutEvent{view: view})
	})
}

// RequestProposal starts building a block for view in the background,
// cancelling any previous build
func (s *scheduler) RequestProposal(view message.View) {
	s.cancelBuild()

	ctx, cancel := context.WithCancel(s.ctx)
	task := &buildTask{id: xid.New(), cancel: cancel}
	s.build = task

	s.e.log.Debug("Building block", "height", view.Height, "round", view.Round, "request", task.id)

	blocks := s.e.ctx.Blocks()

	go func() {
		block, err := blocks.BuildProposal(ctx, view.Height, view.Round)

		s.enqueue(ctx, builtEvent{
			id:    task.id,
			view:  view,
			block: block,
			err:   err,
		})
	}()
}

// complete reports whether id is the current build and retires it
func (s *scheduler) complete(id xid.ID) bool {
	if s.build == nil || s.build.id != id {
		return false
	}

	s.build.cancel()
	s.build = nil

	return true
}

func (s *scheduler) cancelBuild() {
	if s.build == nil {
		return
	}

	s.build.cancel()
	s.build = nil
}

func (s *scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// enqueue blocks until the event is accepted or ctx is done. Internal events
// are never dropped, unlike network messages
func (s *scheduler) enqueue(ctx context.Context, ev event) {
	select {
	case s.e.events <- ev:
	case <-ctx.Done():
	}
}

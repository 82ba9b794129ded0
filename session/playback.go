package session

import (
	"time"

	"github.com/rs/zerolog/log"
)

// schedule arms the single tick timer of the room. The callback only hands
// the generation back to the room goroutine; all state changes happen there.
func (r *room) schedule(d time.Duration) {
	gen := r.generation
	r.timer = r.timers.AfterFunc(d, func() {
		select {
		case r.ticks <- gen:
		case <-r.done:
		}
	})
}

// cancelTimer stops the pending tick and invalidates any tick already in
// flight by moving to a new generation.
func (r *room) cancelTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.generation++
}

// resetPlayback returns the room to idle at (0,0) and reports whether a
// scene was running.
func (r *room) resetPlayback() bool {
	wasActive := r.playback.active
	r.cancelTimer()
	r.playback = playback{}
	return wasActive
}

func (r *room) startScene() error {
	if r.script == nil {
		return ErrNoScriptSelected
	}
	if r.playback.active {
		return ErrSceneRunning
	}
	if len(r.lines) == 0 {
		return ErrEmptyScript
	}
	if !r.cast.complete(r.script) {
		return ErrIncompleteCast
	}

	r.cancelTimer()
	r.playback = playback{active: true}

	r.broadcast(encode(OutSceneStarted, SceneStartedPayload{
		Room:   r.name,
		Timing: timingView(r.timing),
	}))
	r.schedule(r.timing.BaseDelay)
	r.publishDescription()

	log.Info().Str("room", r.name).Str("script", r.script.Id).Msg("scene started")
	return nil
}

// stopScene is a no-op on a room that is not playing.
func (r *room) stopScene() {
	if !r.resetPlayback() {
		return
	}
	r.broadcast(encode(OutSceneStopped, RoomRefPayload{Room: r.name}))
	r.publishDescription()
	log.Info().Str("room", r.name).Msg("scene stopped")
}

// endScene also rewinds a finished scene; members are sent the rewound
// cursor since no sceneStopped announces it.
func (r *room) endScene() {
	wasFinished := r.playback.finished
	r.stopScene()
	r.playback = playback{}
	r.cast.reset()
	if wasFinished {
		r.broadcast(r.snapshotPacket())
	}
	r.broadcast(r.assignmentsPacket())
}

// handleTick advances the reveal by one step. Ticks from a cancelled
// generation, or arriving after playback stopped, are dropped.
func (r *room) handleTick(gen uint64) {
	if gen != r.generation || !r.playback.active {
		log.Debug().Str("room", r.name).Uint64("gen", gen).Msg("dropping stale tick")
		return
	}
	r.timer = nil

	line := r.lines[r.playback.lineIndex]
	next, delay := nextStep(line, r.playback.charIndex, r.timing)
	r.playback.charIndex = next

	r.broadcast(encode(OutLineProgress, ProgressPayload{
		Room:      r.name,
		LineIndex: r.playback.lineIndex,
		CharIndex: next,
	}))

	if next >= len(line) {
		r.playback.lineIndex++
		r.playback.charIndex = 0

		if r.playback.lineIndex >= len(r.lines) {
			r.playback.active = false
			r.playback.finished = true
			r.generation++

			r.broadcast(encode(OutSceneFinished, RoomRefPayload{Room: r.name}))
			r.publishDescription()
			log.Info().Str("room", r.name).Msg("scene finished")
			return
		}
	}

	r.schedule(delay)
}

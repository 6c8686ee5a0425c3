// Package room implements the per-room game loop and the room registry.
//
// Each room is owned by exactly one goroutine: every external interaction
// (join, answer submission, disconnect, timer fire) is delivered as a
// message into that goroutine, so no locking is needed around room state
// and a deadline firing is ordered consistently against a late-arriving
// submission — whichever the loop processes first wins.
package room

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizloop/quizloop/internal/events"
	"github.com/quizloop/quizloop/internal/game"
	"github.com/quizloop/quizloop/internal/persist"
)

// Broadcaster fans out events to a room's connected clients. Both calls
// are non-blocking from the room's perspective.
type Broadcaster interface {
	BroadcastRoom(roomID string, ev events.Event)
	SendPlayer(roomID, playerID string, ev events.Event)
}

// ResultFlusher accepts the final scores of a finished room,
// fire-and-forget.
type ResultFlusher interface {
	Flush(roomID string, results []persist.FinalResult)
}

// Room is one live quiz session. All fields below the cmds channel are
// owned by the run loop and must not be touched from outside it.
type Room struct {
	id    string
	cmds  chan command
	ctx   context.Context
	close context.CancelFunc
	done  chan struct{}

	clock       clockwork.Clock
	broadcaster Broadcaster
	flusher     ResultFlusher

	cfg       game.RoomConfig
	questions []game.Question

	phase         game.Phase
	questionIndex int
	players       map[string]*game.PlayerState
	deadline      time.Time // zero when the phase has none
	timer         clockwork.Timer
	countdownLeft int
	deltas        map[string]int // per-question score deltas, reset each question
	emptySince    time.Time
	finishedAt    time.Time
}

func newRoom(id string, cfg game.RoomConfig, questions []game.Question, clock clockwork.Clock, b Broadcaster, f ResultFlusher) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		id:          id,
		cmds:        make(chan command, 32),
		ctx:         ctx,
		close:       cancel,
		done:        make(chan struct{}),
		clock:       clock,
		broadcaster: b,
		flusher:     f,
		cfg:         cfg,
		questions:   questions,
		phase:       game.PhaseLobby,
		players:     make(map[string]*game.PlayerState),
		deltas:      make(map[string]int),
		emptySince:  clock.Now(),
	}
}

func (r *Room) ID() string { return r.id }

// Close cancels the room context, stopping its timer and unblocking any
// caller waiting on a reply.
func (r *Room) Close() {
	r.close()
}

// Done is closed when the run loop has exited.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) start() {
	go r.run()
}

func (r *Room) run() {
	defer close(r.done)

	// Park the timer; it is reset per phase. One logical timer per room.
	r.timer = r.clock.NewTimer(time.Hour)
	stopAndDrainTimer(r.timer)
	defer stopAndDrainTimer(r.timer)

	log.Info().Str("room_id", r.id).Int("questions", len(r.questions)).Msg("room started")

	for {
		select {
		case <-r.ctx.Done():
			log.Info().Str("room_id", r.id).Str("phase", r.phase.String()).Msg("room closed")
			return
		case c := <-r.cmds:
			r.handleCommand(c)
		case <-r.timer.Chan():
			r.handleTimerFired()
		}
	}
}

func (r *Room) handleCommand(c command) {
	switch c.kind {
	case cmdJoin:
		c.errc <- r.handleJoin(c.join)
	case cmdLeave:
		c.errc <- r.handleLeave(c.playerID)
	case cmdStart:
		c.errc <- r.handleStart()
	case cmdSubmit:
		c.errc <- r.handleSubmit(c.playerID, c.option)
	case cmdVisibilityLost:
		c.errc <- r.handleVisibilityLost(c.playerID)
	case cmdDisconnect:
		c.errc <- r.handleDisconnect(c.playerID, c.epoch)
	case cmdSnapshot:
		c.snapc <- r.snapshot()
	}
}

func (r *Room) handleJoin(req JoinRequest) error {
	if r.phase == game.PhaseFinished {
		return game.ErrInvalidPhase
	}

	if p, ok := r.players[req.PlayerID]; ok {
		if p.AccountID != req.AccountID {
			// The player ID belongs to a different identity; a rebind
			// across accounts would hand this player's state to a stranger.
			return game.ErrIdentityMismatch
		}
		// Reconnect: rebind the transport without touching score or
		// answer state.
		p.Connected = true
		p.Absent = false
		p.ConnEpoch = req.Epoch
		if req.DisplayName != "" {
			p.DisplayName = req.DisplayName
		}
		r.emptySince = time.Time{}
		log.Info().Str("room_id", r.id).Str("player_id", req.PlayerID).Uint64("epoch", req.Epoch).Msg("player reconnected")
		r.sendTo(req.PlayerID, events.TypeRoomState, r.roomStatePayload())
		return nil
	}

	if len(r.players) >= r.cfg.MaxPlayers {
		return game.ErrRoomFull
	}

	p := &game.PlayerState{
		ID:          req.PlayerID,
		AccountID:   req.AccountID,
		DisplayName: req.DisplayName,
		Connected:   true,
		ConnEpoch:   req.Epoch,
	}
	r.players[req.PlayerID] = p
	r.emptySince = time.Time{}

	log.Info().Str("room_id", r.id).Str("player_id", req.PlayerID).Int("players", len(r.players)).Msg("player joined")
	r.emit(events.TypePlayerJoined, events.PlayerJoinedPayload{
		PlayerID:    req.PlayerID,
		DisplayName: req.DisplayName,
		Players:     len(r.players),
	})
	r.sendTo(req.PlayerID, events.TypeRoomState, r.roomStatePayload())
	return nil
}

func (r *Room) handleLeave(playerID string) error {
	if r.phase == game.PhaseFinished {
		return game.ErrInvalidPhase
	}
	if _, ok := r.players[playerID]; !ok {
		return game.ErrPlayerNotFound
	}
	delete(r.players, playerID)
	r.noteConnectedCount()

	r.emit(events.TypePlayerLeft, events.PlayerLeftPayload{
		PlayerID: playerID,
		Players:  len(r.players),
	})

	r.maybeEarlyExit()
	return nil
}

func (r *Room) handleStart() error {
	if r.phase != game.PhaseLobby {
		return game.ErrInvalidPhase
	}
	if r.connectedCount() < 1 {
		return game.ErrInvalidPhase
	}
	if len(r.questions) == 0 {
		return game.ErrInvalidPhase
	}
	r.enterCountdown()
	return nil
}

func (r *Room) handleSubmit(playerID string, option int) error {
	// Deadline is the authoritative boundary: a submission that reaches
	// the loop before the deadline event is processed is accepted even if
	// wall clocks disagree.
	if r.phase != game.PhaseAnswering {
		return game.ErrInvalidPhase
	}
	p, ok := r.players[playerID]
	if !ok {
		return game.ErrPlayerNotFound
	}
	if p.AnsweredCurrent {
		return game.ErrAlreadyAnswered
	}

	q := r.questions[r.questionIndex]
	if option < 0 || option >= len(q.Options) {
		return game.ErrInvalidOption
	}

	delta := game.Score(q, option, p.LeftTab, r.cfg.DifficultyPoints)
	p.Score += delta
	p.AnsweredCurrent = true
	r.deltas[playerID] = delta

	log.Debug().
		Str("room_id", r.id).
		Str("player_id", playerID).
		Int("option", option).
		Int("delta", delta).
		Msg("answer recorded")

	r.sendTo(playerID, events.TypeAnswerAck, events.AnswerAckPayload{
		QuestionID: q.ID,
		Option:     option,
	})

	r.maybeEarlyExit()
	return nil
}

func (r *Room) handleVisibilityLost(playerID string) error {
	p, ok := r.players[playerID]
	if !ok {
		return game.ErrPlayerNotFound
	}
	if r.phase != game.PhaseQuestion && r.phase != game.PhaseAnswering {
		// Outside an active question the signal carries no meaning.
		return nil
	}
	if p.LeftTab {
		// Replay within the same question, already handled.
		return nil
	}
	p.LeftTab = true

	// The flag blocks scoring for this question even if the answer was
	// already submitted: the applied delta is taken back, exactly once.
	if p.AnsweredCurrent {
		p.Score -= r.deltas[playerID]
		r.deltas[playerID] = 0
	}

	log.Info().Str("room_id", r.id).Str("player_id", playerID).Msg("visibility lost, scoring blocked for current question")

	r.maybeEarlyExit()
	return nil
}

func (r *Room) handleDisconnect(playerID string, epoch uint64) error {
	p, ok := r.players[playerID]
	if !ok {
		return game.ErrPlayerNotFound
	}
	if p.ConnEpoch != epoch {
		// A newer connection already rebound this player.
		return nil
	}
	p.Connected = false
	p.DisconnectedAt = r.clock.Now()
	r.noteConnectedCount()

	log.Info().Str("room_id", r.id).Str("player_id", playerID).Msg("player disconnected")

	r.maybeEarlyExit()
	return nil
}

func (r *Room) handleTimerFired() {
	r.refreshAbsence()

	switch r.phase {
	case game.PhaseCountdown:
		r.countdownLeft--
		if r.countdownLeft > 0 {
			r.emit(events.TypeCountdownTick, events.CountdownTickPayload{Remaining: r.countdownLeft})
			r.armTimer(time.Second)
			return
		}
		r.emit(events.TypeCountdownTick, events.CountdownTickPayload{Remaining: 0})
		r.enterQuestion()
	case game.PhaseQuestion:
		r.enterAnswering()
	case game.PhaseAnswering:
		r.enterResults()
	case game.PhaseResults:
		r.advanceOrFinish()
	default:
		// Stale fire in a phase without a deadline; ignore.
	}
}

func (r *Room) enterCountdown() {
	r.transition(game.PhaseCountdown)
	// Ticks run at one-second granularity; a fractional configured
	// duration rounds up so the last tick is never cut short.
	secs := int((r.cfg.CountdownDuration + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	r.countdownLeft = secs
	r.deadline = r.clock.Now().Add(time.Duration(secs) * time.Second)

	r.emitPhase()
	// Each tick is scheduled independently on the room timer; a slow
	// consumer never stalls the sequence.
	r.emit(events.TypeCountdownTick, events.CountdownTickPayload{Remaining: secs})
	r.armTimer(time.Second)
}

func (r *Room) enterQuestion() {
	if r.questionIndex >= len(r.questions) {
		r.finish()
		return
	}
	r.transition(game.PhaseQuestion)

	for _, p := range r.players {
		p.ResetForQuestion()
	}
	r.deltas = make(map[string]int)

	q := r.questions[r.questionIndex]
	log.Info().Str("room_id", r.id).Int("question_index", r.questionIndex).Str("question_id", q.ID).Msg("question started")

	if r.cfg.ReadDuration > 0 {
		r.deadline = r.clock.Now().Add(r.cfg.ReadDuration)
		r.emitPhase()
		r.emit(events.TypeQuestionStarted, r.questionPayload(q, nil))
		r.armTimer(r.cfg.ReadDuration)
		return
	}

	// No read grace: input opens on the same tick.
	r.emitPhase()
	dl := r.clock.Now().Add(q.AnswerDuration(r.cfg.QuestionDuration))
	r.emit(events.TypeQuestionStarted, r.questionPayload(q, &dl))
	r.enterAnswering()
}

func (r *Room) enterAnswering() {
	r.transition(game.PhaseAnswering)
	q := r.questions[r.questionIndex]
	dur := q.AnswerDuration(r.cfg.QuestionDuration)
	r.deadline = r.clock.Now().Add(dur)
	r.emitPhase()
	r.armTimer(dur)
}

func (r *Room) enterResults() {
	r.transition(game.PhaseResults)
	r.deadline = r.clock.Now().Add(r.cfg.ResultsDuration)
	r.emitPhase()

	q := r.questions[r.questionIndex]
	r.emit(events.TypeLeaderboard, events.LeaderboardPayload{
		QuestionID:    q.ID,
		CorrectOption: q.CorrectOption,
		Entries:       r.leaderboard(),
	})
	r.armTimer(r.cfg.ResultsDuration)
}

func (r *Room) advanceOrFinish() {
	if r.questionIndex+1 < len(r.questions) {
		r.questionIndex++
		r.enterQuestion()
		return
	}
	r.finish()
}

func (r *Room) finish() {
	r.transition(game.PhaseFinished)
	r.deadline = time.Time{}
	r.finishedAt = r.clock.Now()
	stopAndDrainTimer(r.timer)

	entries := r.leaderboard()
	r.emitPhase()
	r.emit(events.TypeLeaderboard, events.LeaderboardPayload{Final: true, CorrectOption: -1, Entries: entries})
	r.emit(events.TypeRoomFinished, events.RoomStatePayload{
		Phase:         r.phase.String(),
		QuestionIndex: r.questionIndex,
		Questions:     len(r.questions),
		Entries:       entries,
	})

	results := make([]persist.FinalResult, len(entries))
	for i, e := range entries {
		results[i] = persist.FinalResult{
			Rank:        e.Rank,
			PlayerID:    e.PlayerID,
			DisplayName: e.DisplayName,
			Score:       e.Score,
		}
	}
	r.flusher.Flush(r.id, results)

	log.Info().Str("room_id", r.id).Int("players", len(r.players)).Msg("room finished, results flushed")
}

// maybeEarlyExit advances Answering to Results once every connected,
// non-flagged player has submitted. The deadline remains the mandatory
// baseline; this is only an optimization.
func (r *Room) maybeEarlyExit() {
	if r.phase != game.PhaseAnswering {
		return
	}
	r.refreshAbsence()

	eligible, answered := 0, 0
	for _, p := range r.players {
		if !p.EligibleToAnswer() {
			continue
		}
		eligible++
		if p.AnsweredCurrent {
			answered++
		}
	}
	if eligible > 0 && answered == eligible {
		log.Debug().Str("room_id", r.id).Int("answered", answered).Msg("all eligible players answered, advancing early")
		r.enterResults()
	}
}

// refreshAbsence marks players disconnected longer than the grace window
// as absent for scoring purposes. They remain on the leaderboard.
func (r *Room) refreshAbsence() {
	now := r.clock.Now()
	for _, p := range r.players {
		if !p.Connected && !p.Absent && now.Sub(p.DisconnectedAt) > r.cfg.DisconnectGrace {
			p.Absent = true
		}
	}
}

func (r *Room) transition(target game.Phase) {
	if !r.phase.CanTransitionTo(target) {
		// Transitions are driven only by the loop itself; a violation is
		// a bug in the state machine, not a recoverable condition.
		log.Error().Str("room_id", r.id).Str("from", r.phase.String()).Str("to", target.String()).Msg("illegal phase transition")
		return
	}
	log.Debug().Str("room_id", r.id).Str("from", r.phase.String()).Str("to", target.String()).Msg("phase transition")
	r.phase = target
}

func (r *Room) armTimer(d time.Duration) {
	stopAndDrainTimer(r.timer)
	r.timer.Reset(d)
}

// stopAndDrainTimer safely stops a timer and drains a pending fire so a
// stale deadline never leaks into the next phase.
func stopAndDrainTimer(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}

func (r *Room) connectedCount() int {
	n := 0
	for _, p := range r.players {
		if p.Connected {
			n++
		}
	}
	return n
}

func (r *Room) noteConnectedCount() {
	if r.connectedCount() == 0 && r.emptySince.IsZero() {
		r.emptySince = r.clock.Now()
	}
}

func (r *Room) leaderboard() []events.LeaderboardEntry {
	players := make([]*game.PlayerState, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].Score != players[j].Score {
			return players[i].Score > players[j].Score
		}
		return players[i].DisplayName < players[j].DisplayName
	})

	entries := make([]events.LeaderboardEntry, len(players))
	for i, p := range players {
		entries[i] = events.LeaderboardEntry{
			Rank:        i + 1,
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Delta:       r.deltas[p.ID],
			Connected:   p.Connected,
		}
	}
	return entries
}

func (r *Room) deadlinePtr() *time.Time {
	if r.deadline.IsZero() {
		return nil
	}
	dl := r.deadline
	return &dl
}

func (r *Room) roomStatePayload() events.RoomStatePayload {
	return events.RoomStatePayload{
		Phase:         r.phase.String(),
		QuestionIndex: r.questionIndex,
		Questions:     len(r.questions),
		Deadline:      r.deadlinePtr(),
		Entries:       r.leaderboard(),
	}
}

func (r *Room) questionPayload(q game.Question, deadline *time.Time) events.QuestionStartedPayload {
	return events.QuestionStartedPayload{
		Index:      r.questionIndex,
		QuestionID: q.ID,
		Text:       q.Text,
		Difficulty: string(q.Difficulty),
		Options:    q.Options,
		Deadline:   deadline,
	}
}

func (r *Room) emitPhase() {
	r.emit(events.TypePhaseChanged, events.PhaseChangedPayload{
		Phase:         r.phase.String(),
		QuestionIndex: r.questionIndex,
		Deadline:      r.deadlinePtr(),
	})
}

func (r *Room) emit(t events.Type, payload any) {
	r.broadcaster.BroadcastRoom(r.id, events.New(r.id, t, r.clock.Now(), payload))
}

func (r *Room) sendTo(playerID string, t events.Type, payload any) {
	r.broadcaster.SendPlayer(r.id, playerID, events.New(r.id, t, r.clock.Now(), payload))
}

func (r *Room) snapshot() Snapshot {
	snap := Snapshot{
		RoomID:         r.id,
		Phase:          r.phase,
		QuestionIndex:  r.questionIndex,
		QuestionCount:  len(r.questions),
		Deadline:       r.deadline,
		ConnectedCount: r.connectedCount(),
		EmptySince:     r.emptySince,
		FinishedAt:     r.finishedAt,
	}
	for _, e := range r.leaderboard() {
		p := r.players[e.PlayerID]
		snap.Players = append(snap.Players, PlayerSummary{
			PlayerID:        p.ID,
			DisplayName:     p.DisplayName,
			Score:           p.Score,
			Connected:       p.Connected,
			Absent:          p.Absent,
			AnsweredCurrent: p.AnsweredCurrent,
			LeftTab:         p.LeftTab,
		})
	}
	return snap
}

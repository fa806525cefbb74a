package game

// The turn state machine. Everything in this file is pure: transitions are
// computed against an in-memory Session and persisted by the service layer
// under the row lock.

// Rejection messages returned inside result envelopes when a state-machine
// validation fails. These are outcomes, not errors: the transaction commits
// nothing and the event id is not consumed.
const (
	RejectionGameNotFound   = "Game not found"
	RejectionGameNotActive  = "Game is not active"
	RejectionNotParticipant = "Not a participant in this game"
	RejectionNotYourTurn    = "Not your turn"
	RejectionNoTrickSet     = "No trick to attempt"
	RejectionEmptyTrick     = "Trick name is required"
)

// validateTurnActor checks that the session is active and the actor holds the
// current turn. It returns the actor's index and an empty rejection on
// success.
func validateTurnActor(s *Session, odv string) (int, string) {
	if s.Status != StatusActive {
		return -1, RejectionGameNotActive
	}
	index := s.Players.indexOf(odv)
	if index < 0 {
		return -1, RejectionNotParticipant
	}
	if s.Players[index].Eliminated() || index != s.CurrentTurnIndex {
		return -1, RejectionNotYourTurn
	}
	return index, ""
}

// nextActiveIndex scans forward from the given index, wrapping, and returns
// the first connected, non-eliminated player. It returns the starting index
// when no other player can act.
func nextActiveIndex(players PlayerList, from int) int {
	if len(players) == 0 {
		return from
	}
	for step := 1; step <= len(players); step++ {
		candidate := (from + step) % len(players)
		player := players[candidate]
		if player.Connected && !player.Eliminated() {
			return candidate
		}
	}
	return from
}

// applySetTrick records the new trick and hands the turn to the first
// attempter.
func applySetTrick(s *Session, setterIndex int, trickName string) {
	s.CurrentTrick = trickName
	s.SetterODV = s.Players[setterIndex].ODV
	s.CurrentTurnIndex = nextActiveIndex(s.Players, setterIndex)
	s.CurrentAction = ActionAttempt
}

// advanceRotation moves the turn to the next active player. The attempt phase
// loops through every non-setter player against the same trick; the round is
// over and the phase flips back to set once the rotation returns to the
// setter, or once the setter can no longer act (the scan would skip them
// forever otherwise).
func advanceRotation(s *Session) {
	next := nextActiveIndex(s.Players, s.CurrentTurnIndex)
	s.CurrentTurnIndex = next
	setterIndex := s.Players.indexOf(s.SetterODV)
	setterGone := setterIndex < 0 || !s.Players[setterIndex].Connected || s.Players[setterIndex].Eliminated()
	if setterGone || s.Players[next].ODV == s.SetterODV {
		s.CurrentAction = ActionSet
		s.CurrentTrick = ""
		s.SetterODV = ""
	}
}

// remainingIndexes returns the positions of all non-eliminated players.
func remainingIndexes(players PlayerList) []int {
	remaining := make([]int, 0, len(players))
	for index, player := range players {
		if !player.Eliminated() {
			remaining = append(remaining, index)
		}
	}
	return remaining
}

// completeIfDecided transitions the session to completed when at most one
// non-eliminated player remains. It reports whether the session completed.
func completeIfDecided(s *Session) bool {
	remaining := remainingIndexes(s.Players)
	if len(remaining) != 1 {
		return false
	}
	finishSession(s, s.Players[remaining[0]].ODV)
	return true
}

// forcedWinnerIndex selects the winner at a forced end of game: fewest
// letters among non-eliminated players, ties broken by earliest player order.
// The excluded index (the forfeiting player) never wins; pass -1 to consider
// everyone.
func forcedWinnerIndex(players PlayerList, exclude int) int {
	winner := -1
	for index, player := range players {
		if index == exclude || player.Eliminated() {
			continue
		}
		if winner < 0 || len(player.Letters) < len(players[winner].Letters) {
			winner = index
		}
	}
	if winner >= 0 {
		return winner
	}
	// Everyone else already eliminated: fall back to the least-lettered
	// player regardless of elimination so a winner is always resolvable.
	for index, player := range players {
		if index == exclude {
			continue
		}
		if winner < 0 || len(player.Letters) < len(players[winner].Letters) {
			winner = index
		}
	}
	return winner
}

// finishSession marks the session completed with the given winner and clears
// the live-turn fields.
func finishSession(s *Session, winnerODV string) {
	s.Status = StatusCompleted
	s.WinnerODV = winnerODV
	s.CurrentTrick = ""
	s.SetterODV = ""
	s.PausedAt = nil
}

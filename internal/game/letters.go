package game

// ProgressionWord is the letter sequence a player accumulates toward
// elimination. A player holding the full word is out of the game.
const ProgressionWord = "SKATE"

// NextLetter returns the letter a player gains on a failed attempt given
// their current progression. It returns an empty string, never an absent
// value, when the player already holds the full word.
func NextLetter(current string) string {
	if len(current) >= len(ProgressionWord) {
		return ""
	}
	return string(ProgressionWord[len(current)])
}

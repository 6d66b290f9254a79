package game

// AIOpponentName is shown to a player matched against the computer.
const AIOpponentName = "AI (Expert)"

// Variant describes a supported board size.
type Variant struct {
	Name    string `json:"name"`
	Size    int    `json:"size"`
	AIDepth int    `json:"aiDepth"` // minimax search depth
}

// Classic is the 3x3 game. Depth 10 exceeds the cell count, so the search is exhaustive.
var Classic = Variant{Name: "classic", Size: 3, AIDepth: 10}

// Large is the 4x4 game. A full search is too slow; depth 5 keeps the AI strong but beatable.
var Large = Variant{Name: "large", Size: 4, AIDepth: 5}

package chat

// TurnType identifies who produced a turn in the conversation history.
type TurnType string

const (
	TurnHuman TurnType = "human"
	TurnAI    TurnType = "ai"
)

// Turn is a single stored history entry.
type Turn struct {
	Type    TurnType `json:"type"`
	Content string   `json:"content"`
}

// HumanTurn builds a user turn.
func HumanTurn(content string) Turn {
	return Turn{Type: TurnHuman, Content: content}
}

// AITurn builds an assistant turn.
func AITurn(content string) Turn {
	return Turn{Type: TurnAI, Content: content}
}

package chat

// HistoryLimit caps the stored history at five human/assistant exchanges.
const HistoryLimit = 10

// History is the ordered list of prior turns kept in session state.
type History []Turn

// Recent returns a copy of the last n turns.
func (h History) Recent(n int) History {
	if n <= 0 || len(h) == 0 {
		return History{}
	}

	start := 0
	if len(h) > n {
		start = len(h) - n
	}

	out := make(History, len(h)-start)
	copy(out, h[start:])
	return out
}

// Append records one exchange and drops the oldest turns beyond HistoryLimit.
// The receiver is left untouched.
func (h History) Append(message, reply string) History {
	next := make(History, 0, len(h)+2)
	next = append(next, h...)
	next = append(next, HumanTurn(message), AITurn(reply))
	return next.Recent(HistoryLimit)
}

// Package extract drives one external LLM extraction job per conversation
// turn and resolves its mandatory tool call into a structured order.
package extract

// Item is one line of an extracted product order.
type Item struct {
	Product  string  `json:"product"`
	Country  string  `json:"country"`
	Quantity float64 `json:"quantity"`
}

// Outcome is the result of one extraction round trip. Either the assistant
// is still gathering information (Complete false, Items nil) or the order is
// final (Complete true, Items populated).
type Outcome struct {
	Complete bool
	Response string
	Items    []Item
}

// Pending returns a still-gathering outcome carrying the assistant's reply.
func Pending(text string) *Outcome {
	return &Outcome{Response: text}
}

// Completed returns a final outcome carrying the extracted order.
func Completed(text string, items []Item) *Outcome {
	return &Outcome{Complete: true, Response: text, Items: items}
}

// Fallback is the outcome used whenever the provider misbehaves: the
// conversation degrades to an apology instead of failing the turn.
func Fallback() *Outcome {
	return Pending(ApologyText)
}

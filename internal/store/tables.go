package store

// Tables names the DynamoDB tables composing the authoritative store.
type Tables struct {
	Orders     string
	OrderLines string
	Components string
	Counters   string
}

// CountersDocID is the fixed id of the single shared counters document.
const CountersDocID = "system"

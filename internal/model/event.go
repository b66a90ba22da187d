package model

import "encoding/json"

// Event is the signed payload posted to the webhook endpoint by the payment
// processor. Data is kept raw; each business handler decodes the shape it
// cares about.
type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

package resolver

import (
	"net/http"

	"github.com/orblabs/keygate/internal/lifecycle"
)

// Envelope is the uniform response shape for every resolver field.
// Code is an HTTP-style status; Success mirrors code==200. On failure
// Message carries the coded form "[AAMxxx] text".
type Envelope struct {
	Code             int               `json:"code"`
	Success          bool              `json:"success"`
	Message          string            `json:"message,omitempty"`
	Item             interface{}       `json:"item,omitempty"`
	Items            interface{}       `json:"items,omitempty"`
	NextToken        string            `json:"nextToken,omitempty"`
	RateLimitHeaders map[string]string `json:"rateLimitHeaders,omitempty"`
}

// ok builds a success envelope around a single item.
func ok(item interface{}) *Envelope {
	return &Envelope{
		Code:    http.StatusOK,
		Success: true,
		Item:    item,
	}
}

// okMessage builds a success envelope with an explanatory message.
func okMessage(message string, item interface{}) *Envelope {
	e := ok(item)
	e.Message = message
	return e
}

// failure converts any error into a well-formed envelope. Unknown
// errors surface as the generic internal code; detail stays in logs.
func failure(err error) *Envelope {
	coded := lifecycle.AsError(err)
	return &Envelope{
		Code:    coded.Status,
		Success: false,
		Message: coded.Error(),
	}
}

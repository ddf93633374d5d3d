package sms

import (
	"net/http"
	"strings"

	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

// Reply renders the TwiML answer to an inbound SMS. An empty body yields an
// empty response, which tells Twilio not to send anything.
func Reply(body string) (string, error) {
	var elements []twiml.Element
	if body != "" {
		elements = append(elements, &twiml.MessagingMessage{Body: body})
	}
	return twiml.Messages(elements)
}

// Validator checks the X-Twilio-Signature of webhook requests.
type Validator struct {
	validator client.RequestValidator
}

// NewValidator creates a validator for the account's auth token.
func NewValidator(authToken string) *Validator {
	return &Validator{validator: client.NewRequestValidator(authToken)}
}

// ValidateRequest verifies a parsed form POST against the public URL Twilio called.
func (v *Validator) ValidateRequest(r *http.Request, url string) bool {
	params := make(map[string]string, len(r.PostForm))
	for k, values := range r.PostForm {
		params[k] = strings.Join(values, "")
	}
	return v.validator.Validate(url, params, r.Header.Get("X-Twilio-Signature"))
}

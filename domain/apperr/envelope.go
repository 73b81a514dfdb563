package apperr

// Envelope is the JSON body written for every error response.
type Envelope struct {
	Success bool `json:"success"`
	Error   Body `json:"error"`
}

// Body is the error object inside an Envelope.
type Body struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Context  Context  `json:"context"`
	Stack    string   `json:"stack,omitempty"`
}

// PublicMessage returns the message safe to show the caller. Kinds without
// public detail get their generic message instead of the curated one.
func (e *Error) PublicMessage() string {
	s := e.Kind.info()
	if s.public || s.publicMessage == "" {
		return e.Message
	}
	return s.publicMessage
}

// Envelope renders e for the wire. The stack is included only when dev is
// true, and context extras are dropped for kinds without public detail.
func (e *Error) Envelope(dev bool) Envelope {
	ctx := e.Context
	if !e.Kind.Public() {
		ctx.Extra = nil
	}
	body := Body{
		Code:     e.Code(),
		Message:  e.PublicMessage(),
		Severity: e.Severity,
		Context:  ctx,
	}
	if dev {
		body.Stack = e.Stack()
	}
	return Envelope{Success: false, Error: body}
}

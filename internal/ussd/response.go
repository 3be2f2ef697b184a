package ussd

// Kind tells the gateway whether the session stays open.
type Kind int

const (
	Continue Kind = iota
	Terminate
)

func (k Kind) String() string {
	if k == Continue {
		return "CON"
	}
	return "END"
}

// Response is a single gateway reply.
type Response struct {
	Kind    Kind
	Message string
}

func Con(message string) Response {
	return Response{Kind: Continue, Message: message}
}

func End(message string) Response {
	return Response{Kind: Terminate, Message: message}
}

// String renders the reply in the gateway wire format, e.g. "CON Enter your full name:".
func (r Response) String() string {
	return r.Kind.String() + " " + r.Message
}

package completion

const (
	apologyTimeout       = "I'm thinking a bit slowly right now. Can you try asking me again?"
	apologyTransport     = "I'm having trouble with my thoughts right now. Please try again in a moment."
	apologyNotConfigured = "I'm having trouble connecting to my brain right now, kiddo. Can you try again in a moment?"
	apologyOther         = "Something went wrong in my thinking process. Let me try to help you anyway!"
)

// Apology converts a gateway failure into the in-character reply used by
// lenient deployments.
func Apology(err error) string {
	switch KindOf(err) {
	case Timeout:
		return apologyTimeout
	case TransportFailure:
		return apologyTransport
	case NotConfigured:
		return apologyNotConfigured
	default:
		return apologyOther
	}
}

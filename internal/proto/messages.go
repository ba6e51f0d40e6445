package proto

import "strings"

// ControlPasswordPrefix marks the relay -> listener message carrying the current control credential.
const ControlPasswordPrefix = "control_password "

// DefaultControlOnlyPrefix marks controller lines meant for the relay itself; they are never fanned out.
const DefaultControlOnlyPrefix = "host "

// Authorized is sent to a controller once its credential has been accepted.
const Authorized = "authorized"

// SubProtocol is the WebSocket sub-protocol listeners must request.
const SubProtocol = "cmdrelay.v1"

// Class is the relay's view of a single line.
type Class int

const (
	Ordinary Class = iota
	Reserved
	ControlOnly
)

func (c Class) String() string {
	switch c {
	case Reserved:
		return "reserved"
	case ControlOnly:
		return "control_only"
	default:
		return "ordinary"
	}
}

// EncodeControlCredential renders the credential push line.
func EncodeControlCredential(value string) string {
	return ControlPasswordPrefix + value
}

// ParseControlCredential extracts the credential from a push line.
func ParseControlCredential(line string) (string, bool) {
	v, ok := strings.CutPrefix(line, ControlPasswordPrefix)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// IsReserved reports whether line looks like a credential push. Such lines are
// only ever produced by the relay; copies arriving from peers are dropped.
func IsReserved(line string) bool {
	return strings.HasPrefix(line, ControlPasswordPrefix)
}

// Codec classifies lines. The zero value has no control-only prefix.
type Codec struct {
	ControlOnlyPrefix string
}

// NewCodec returns a Codec using prefix, or DefaultControlOnlyPrefix when prefix is empty.
func NewCodec(prefix string) Codec {
	if prefix == "" {
		prefix = DefaultControlOnlyPrefix
	}
	return Codec{ControlOnlyPrefix: prefix}
}

// IsControlOnly reports whether line carries the control-only prefix.
func (c Codec) IsControlOnly(line string) bool {
	return c.ControlOnlyPrefix != "" && strings.HasPrefix(line, c.ControlOnlyPrefix)
}

// Classify returns the class of line. Reserved wins over ControlOnly.
func (c Codec) Classify(line string) Class {
	switch {
	case IsReserved(line):
		return Reserved
	case c.IsControlOnly(line):
		return ControlOnly
	default:
		return Ordinary
	}
}

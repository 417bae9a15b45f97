package driver

import "strings"

// Status is a typed acknowledgement such as "OK" or "PONG", distinct from a
// plain boolean reply.
type Status string

const (
	StatusOK   Status = "OK"
	StatusPONG Status = "PONG"
)

// Acknowledged reports whether reply means success. It accepts a bool, a
// Status, or a plain string equal to want.
func Acknowledged(reply any, want Status) bool {
	switch r := reply.(type) {
	case bool:
		return r
	case Status:
		return strings.EqualFold(string(r), string(want))
	case string:
		return strings.EqualFold(r, string(want))
	case []byte:
		return strings.EqualFold(string(r), string(want))
	default:
		return false
	}
}

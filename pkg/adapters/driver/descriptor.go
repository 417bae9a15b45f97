package driver

import (
	"strconv"
	"strings"
)

// Descriptor is one line of a CLIENT LIST reply: a snapshot of a connection
// open on the server. Only id, db and cmd are interpreted; the rest are kept
// raw.
type Descriptor struct {
	Fields map[string]string
}

// NewDescriptor builds a descriptor from the three interpreted fields.
func NewDescriptor(id int64, db int, lastCommand string) Descriptor {
	return Descriptor{Fields: map[string]string{
		"id":  strconv.FormatInt(id, 10),
		"db":  strconv.Itoa(db),
		"cmd": lastCommand,
	}}
}

// ID returns the server-assigned connection id.
func (d Descriptor) ID() (int64, bool) {
	v, ok := d.Fields["id"]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// DB returns the database currently selected on the connection.
func (d Descriptor) DB() (int, bool) {
	v, ok := d.Fields["db"]
	if !ok {
		return 0, false
	}
	db, err := strconv.Atoi(v)
	if err != nil || db < 0 {
		return 0, false
	}
	return db, true
}

// LastCommand returns the last command the connection issued, lowercased.
func (d Descriptor) LastCommand() (string, bool) {
	v, ok := d.Fields["cmd"]
	if !ok || v == "" {
		return "", false
	}
	return strings.ToLower(v), true
}

// Get returns a raw field.
func (d Descriptor) Get(key string) string {
	return d.Fields[key]
}

// ParseClientList parses the text reply of CLIENT LIST: one connection per
// line, space separated key=value pairs.
func ParseClientList(raw string) []Descriptor {
	var out []Descriptor
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := make(map[string]string)
		for _, token := range strings.Fields(line) {
			key, value, found := strings.Cut(token, "=")
			if !found || key == "" {
				continue
			}
			fields[key] = value
		}
		if len(fields) > 0 {
			out = append(out, Descriptor{Fields: fields})
		}
	}
	return out
}

// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package trace

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// Schema identifies the layout of a tracer line and of the binary message
// broadcast for it.
type Schema int

const (
	// SchemaAuto accepts any known schema. It is only meaningful when
	// choosing which schemas to accept, events always carry a concrete one.
	SchemaAuto Schema = iota

	// SchemaV1 lines carry relfilenode and block.
	SchemaV1

	// SchemaV2 lines carry relfilenode, block and the hit indicator.
	SchemaV2
)

const fieldWidth = 8

type layout struct {
	schema Schema
	fields int
}

// layouts maps the length of a tracer line to its schema.
var layouts = map[int]layout{
	2 * fieldWidth: {schema: SchemaV1, fields: 2},
	3 * fieldWidth: {schema: SchemaV2, fields: 3},
}

// ParseSchemaName returns the schema named by s, as used in configuration.
func ParseSchemaName(s string) (Schema, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return SchemaAuto, nil
	case "v1":
		return SchemaV1, nil
	case "v2":
		return SchemaV2, nil
	}
	return SchemaAuto, errors.NotValidf("trace schema %q", s)
}

// String implements fmt.Stringer.
func (s Schema) String() string {
	switch s {
	case SchemaAuto:
		return "auto"
	case SchemaV1:
		return "v1"
	case SchemaV2:
		return "v2"
	}
	return fmt.Sprintf("schema(%d)", int(s))
}

// LineLength returns the number of hex characters in a line of this schema.
func (s Schema) LineLength() int {
	return s.fields() * fieldWidth
}

// MessageSize returns the size in bytes of the binary message of this schema.
func (s Schema) MessageSize() int {
	return s.fields() * 4
}

// HasHit reports whether the schema carries the hit indicator.
func (s Schema) HasHit() bool {
	return s == SchemaV2
}

func (s Schema) fields() int {
	switch s {
	case SchemaV1:
		return 2
	case SchemaV2:
		return 3
	}
	return 0
}

// Event is a single sampled buffer access.
type Event struct {
	Relfilenode uint32
	Block       uint32
	// Hit is only set when Schema is SchemaV2.
	Hit    uint32
	Schema Schema
}

// Parse decodes a tracer line of any known schema. It returns false if the
// line is not a valid event.
func Parse(line string) (Event, bool) {
	return ParseSchema(line, SchemaAuto)
}

// ParseSchema decodes a tracer line, accepting only lines of the given
// schema unless accept is SchemaAuto. Lines of the wrong length, lines with
// characters that are not hex digits and lines of a schema that is not
// accepted yield false.
func ParseSchema(line string, accept Schema) (Event, bool) {
	line = strings.TrimSpace(line)
	l, ok := layouts[len(line)]
	if !ok {
		return Event{}, false
	}
	if accept != SchemaAuto && accept != l.schema {
		return Event{}, false
	}
	var values [3]uint32
	for i := 0; i < l.fields; i++ {
		v, ok := parseField(line[i*fieldWidth : (i+1)*fieldWidth])
		if !ok {
			return Event{}, false
		}
		values[i] = v
	}
	return Event{
		Relfilenode: values[0],
		Block:       values[1],
		Hit:         values[2],
		Schema:      l.schema,
	}, true
}

// parseField parses exactly eight hex digits. Eight digits always fit in a
// uint32, so there is no overflow to detect.
func parseField(s string) (uint32, bool) {
	var v uint32
	for i := 0; i < len(s); i++ {
		d, ok := hexDigit(s[i])
		if !ok {
			return 0, false
		}
		v = v<<4 | uint32(d)
	}
	return v, true
}

func hexDigit(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// FormatLine returns the tracer line for the event.
func FormatLine(ev Event) string {
	if ev.Schema.HasHit() {
		return fmt.Sprintf("%08x%08x%08x", ev.Relfilenode, ev.Block, ev.Hit)
	}
	return fmt.Sprintf("%08x%08x", ev.Relfilenode, ev.Block)
}

// String implements fmt.Stringer. It returns the tracer line for the event.
func (ev Event) String() string {
	return FormatLine(ev)
}

// Encode returns the binary broadcast message for the event: relfilenode
// and block as big-endian uint32s, followed by hit for SchemaV2 events.
// Events without a concrete schema are encoded as SchemaV1.
func Encode(ev Event) []byte {
	size := ev.Schema.MessageSize()
	if size == 0 {
		size = SchemaV1.MessageSize()
	}
	msg := make([]byte, size)
	binary.BigEndian.PutUint32(msg[0:4], ev.Relfilenode)
	binary.BigEndian.PutUint32(msg[4:8], ev.Block)
	if ev.Schema.HasHit() {
		binary.BigEndian.PutUint32(msg[8:12], ev.Hit)
	}
	return msg
}

// Decode is the inverse of Encode.
func Decode(msg []byte) (Event, error) {
	var ev Event
	switch len(msg) {
	case SchemaV1.MessageSize():
		ev.Schema = SchemaV1
	case SchemaV2.MessageSize():
		ev.Schema = SchemaV2
		ev.Hit = binary.BigEndian.Uint32(msg[8:12])
	default:
		return Event{}, errors.NotValidf("message of %d bytes", len(msg))
	}
	ev.Relfilenode = binary.BigEndian.Uint32(msg[0:4])
	ev.Block = binary.BigEndian.Uint32(msg[4:8])
	return ev, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (ev Event) MarshalBinary() ([]byte, error) {
	return Encode(ev), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (ev *Event) UnmarshalBinary(data []byte) error {
	decoded, err := Decode(data)
	if err != nil {
		return errors.Trace(err)
	}
	*ev = decoded
	return nil
}

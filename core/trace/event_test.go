// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package trace_test

import (
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/pgbufview/pgbufview/core/trace"
)

type eventSuite struct {
	testing.IsolationSuite
}

var _ = gc.Suite(&eventSuite{})

func (s *eventSuite) TestParseInvalidLines(c *gc.C) {
	for i, line := range []string{
		"",
		"000000010000000",
		"000000010000000g",
		"00000001000000050000000",
		"0000000100000005000000020",
		"0x00000100000005",
		"oid:1 block:5",
		"00000001 0000005",
		"-0000001000000005",
	} {
		c.Logf("test %d: %q", i, line)
		_, ok := trace.Parse(line)
		c.Check(ok, jc.IsFalse)
	}
}

func (s *eventSuite) TestParseV1(c *gc.C) {
	ev, ok := trace.Parse("0000000100000005")
	c.Assert(ok, jc.IsTrue)
	c.Check(ev, jc.DeepEquals, trace.Event{
		Relfilenode: 1,
		Block:       5,
		Schema:      trace.SchemaV1,
	})
}

func (s *eventSuite) TestParseV2(c *gc.C) {
	ev, ok := trace.Parse("000000010000000500000002")
	c.Assert(ok, jc.IsTrue)
	c.Check(ev, jc.DeepEquals, trace.Event{
		Relfilenode: 1,
		Block:       5,
		Hit:         2,
		Schema:      trace.SchemaV2,
	})
}

func (s *eventSuite) TestParseMixedCaseAndNewline(c *gc.C) {
	ev, ok := trace.Parse("00004002FFFFFFFF\n")
	c.Assert(ok, jc.IsTrue)
	c.Check(ev.Relfilenode, gc.Equals, uint32(0x4002))
	c.Check(ev.Block, gc.Equals, uint32(0xffffffff))

	ev, ok = trace.Parse("0000400aAbCdEf01")
	c.Assert(ok, jc.IsTrue)
	c.Check(ev.Block, gc.Equals, uint32(0xabcdef01))
}

func (s *eventSuite) TestParseSchemaPinned(c *gc.C) {
	_, ok := trace.ParseSchema("0000000100000005", trace.SchemaV2)
	c.Check(ok, jc.IsFalse)
	_, ok = trace.ParseSchema("000000010000000500000002", trace.SchemaV1)
	c.Check(ok, jc.IsFalse)

	ev, ok := trace.ParseSchema("000000010000000500000002", trace.SchemaV2)
	c.Assert(ok, jc.IsTrue)
	c.Check(ev.Hit, gc.Equals, uint32(2))
}

func (s *eventSuite) TestEncodeV1(c *gc.C) {
	msg := trace.Encode(trace.Event{Relfilenode: 16384, Block: 5, Schema: trace.SchemaV1})
	c.Check(msg, jc.DeepEquals, []byte{0, 0, 0x40, 0, 0, 0, 0, 5})
}

func (s *eventSuite) TestEncodeV2(c *gc.C) {
	msg := trace.Encode(trace.Event{Relfilenode: 1, Block: 0x01020304, Hit: 1, Schema: trace.SchemaV2})
	c.Check(msg, jc.DeepEquals, []byte{0, 0, 0, 1, 1, 2, 3, 4, 0, 0, 0, 1})
}

func (s *eventSuite) TestEncodeWithoutSchemaDropsHit(c *gc.C) {
	msg := trace.Encode(trace.Event{Relfilenode: 1, Block: 2, Hit: 3})
	c.Check(msg, gc.HasLen, 8)
}

func (s *eventSuite) TestRoundTrip(c *gc.C) {
	for _, line := range []string{
		"0000000100000005",
		"ffffffff00000000",
		"000000010000000500000002",
		"0000400100000a0000000000",
	} {
		ev, ok := trace.Parse(line)
		c.Assert(ok, jc.IsTrue)
		c.Check(trace.FormatLine(ev), gc.Equals, line)

		decoded, err := trace.Decode(trace.Encode(ev))
		c.Assert(err, jc.ErrorIsNil)
		c.Check(decoded, jc.DeepEquals, ev)
	}
}

func (s *eventSuite) TestDecodeInvalidSize(c *gc.C) {
	_, err := trace.Decode([]byte{1, 2, 3})
	c.Check(err, gc.ErrorMatches, `message of 3 bytes not valid`)
}

func (s *eventSuite) TestBinaryMarshaler(c *gc.C) {
	ev := trace.Event{Relfilenode: 7, Block: 9, Hit: 1, Schema: trace.SchemaV2}
	data, err := ev.MarshalBinary()
	c.Assert(err, jc.ErrorIsNil)

	var out trace.Event
	c.Assert(out.UnmarshalBinary(data), jc.ErrorIsNil)
	c.Check(out, jc.DeepEquals, ev)
}

func (s *eventSuite) TestParseSchemaName(c *gc.C) {
	for name, expected := range map[string]trace.Schema{
		"":     trace.SchemaAuto,
		"auto": trace.SchemaAuto,
		"V1":   trace.SchemaV1,
		"v2":   trace.SchemaV2,
	} {
		schema, err := trace.ParseSchemaName(name)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(schema, gc.Equals, expected)
	}
	_, err := trace.ParseSchemaName("v3")
	c.Check(err, gc.ErrorMatches, `trace schema "v3" not valid`)
}

func (s *eventSuite) TestSchemaSizes(c *gc.C) {
	c.Check(trace.SchemaV1.LineLength(), gc.Equals, 16)
	c.Check(trace.SchemaV2.LineLength(), gc.Equals, 24)
	c.Check(trace.SchemaV1.MessageSize(), gc.Equals, 8)
	c.Check(trace.SchemaV2.MessageSize(), gc.Equals, 12)
}

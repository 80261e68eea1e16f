// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package jsonrpc_test

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/juju/logiq/rpc/jsonrpc"
)

type valueSuite struct{}

var _ = gc.Suite(&valueSuite{})

func (*valueSuite) TestParsePreservesObjectOrder(c *gc.C) {
	v, err := jsonrpc.ParseValue([]byte(`{"zeta":1,"alpha":[true,null,"x"],"mid":{"b":2.5,"a":-1}}`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(v.Kind(), gc.Equals, jsonrpc.ObjectKind)
	c.Check(v.String(), gc.Equals, `{"zeta":1,"alpha":[true,null,"x"],"mid":{"b":2.5,"a":-1}}`)

	members, err := v.AsObject()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(members, gc.HasLen, 3)
	c.Check(members[0].Key, gc.Equals, "zeta")
	c.Check(members[2].Key, gc.Equals, "mid")
}

func (*valueSuite) TestParseInvalid(c *gc.C) {
	for _, text := range []string{``, `{`, `[1,]`, `1 2`, `nul`} {
		_, err := jsonrpc.ParseValue([]byte(text))
		c.Check(err, gc.NotNil, gc.Commentf("text %q", text))
	}
}

func (*valueSuite) TestAccessors(c *gc.C) {
	b, err := jsonrpc.Bool(true).AsBool()
	c.Check(err, jc.ErrorIsNil)
	c.Check(b, jc.IsTrue)

	i, err := jsonrpc.Int(-42).AsInt64()
	c.Check(err, jc.ErrorIsNil)
	c.Check(i, gc.Equals, int64(-42))

	_, err = jsonrpc.Float(1.5).AsInt64()
	c.Check(err, gc.NotNil)

	s, err := jsonrpc.String("well").AsString()
	c.Check(err, jc.ErrorIsNil)
	c.Check(s, gc.Equals, "well")

	_, err = jsonrpc.String("well").AsBool()
	c.Check(err, gc.ErrorMatches, `value is string, not bool`)

	arr, err := jsonrpc.Array(jsonrpc.Int(1), jsonrpc.Int(2)).AsArray()
	c.Check(err, jc.ErrorIsNil)
	c.Check(arr, gc.HasLen, 2)

	c.Check(jsonrpc.Null().IsNull(), jc.IsTrue)
	c.Check(jsonrpc.Value{}.IsNull(), jc.IsTrue)
	c.Check(jsonrpc.Array().Len(), gc.Equals, 0)
}

func (*valueSuite) TestObjectReplacesDuplicateKeys(c *gc.C) {
	v := jsonrpc.Object(
		jsonrpc.Member{Key: "a", Value: jsonrpc.Int(1)},
		jsonrpc.Member{Key: "b", Value: jsonrpc.Int(2)},
		jsonrpc.Member{Key: "a", Value: jsonrpc.Int(3)},
	)
	c.Check(v.String(), gc.Equals, `{"a":3,"b":2}`)
}

func (*valueSuite) TestParseLargeObject(c *gc.C) {
	const n = 50000
	var b strings.Builder
	b.WriteString("{")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `"k%d":%d,`, i, i)
	}
	// A repeated key keeps its first position and takes the last value.
	b.WriteString(`"k0":"last"}`)

	start := time.Now()
	v, err := jsonrpc.ParseValue([]byte(b.String()))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(v.Equal(v), jc.IsTrue)
	c.Check(time.Since(start) < 2*time.Second, jc.IsTrue, gc.Commentf("took %v", time.Since(start)))

	members, err := v.AsObject()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(members, gc.HasLen, n)
	c.Check(members[0].Key, gc.Equals, "k0")
	c.Check(members[0].Value.Equal(jsonrpc.String("last")), jc.IsTrue)
	c.Check(members[1].Key, gc.Equals, "k1")
	c.Check(members[n-1].Key, gc.Equals, fmt.Sprintf("k%d", n-1))
}

func (*valueSuite) TestEqual(c *gc.C) {
	a, err := jsonrpc.ParseValue([]byte(`{"x":1.0,"y":[1,"a"]}`))
	c.Assert(err, jc.ErrorIsNil)
	b, err := jsonrpc.ParseValue([]byte(`{"y":[1,"a"],"x":1}`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(a.Equal(b), jc.IsTrue)

	d, err := jsonrpc.ParseValue([]byte(`{"y":[1,"a"],"x":2}`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(a.Equal(d), jc.IsFalse)
	c.Check(jsonrpc.Int(1).Equal(jsonrpc.String("1")), jc.IsFalse)
}

type wellParams struct {
	Name  string  `json:"name"`
	Depth float64 `json:"depth"`
}

func (*valueSuite) TestValueOf(c *gc.C) {
	v, err := jsonrpc.ValueOf(wellParams{Name: "A-1", Depth: 1200.5})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(v.String(), gc.Equals, `{"name":"A-1","depth":1200.5}`)

	var back wellParams
	c.Assert(v.Decode(&back), jc.ErrorIsNil)
	c.Check(back, jc.DeepEquals, wellParams{Name: "A-1", Depth: 1200.5})

	_, err = jsonrpc.ValueOf(math.NaN())
	c.Check(err, jc.ErrorIs, errors.NotValid)

	_, err = jsonrpc.ValueOf(make(chan int))
	c.Check(err, gc.NotNil)
}

func (*valueSuite) TestNumber(c *gc.C) {
	v, err := jsonrpc.Number(json.Number("1e3"))
	c.Assert(err, jc.ErrorIsNil)
	f, err := v.AsFloat64()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(f, gc.Equals, 1000.0)

	for _, bad := range []string{"", "abc", "NaN", "0x10", "true", `"1"`} {
		_, err := jsonrpc.Number(json.Number(bad))
		c.Check(err, jc.ErrorIs, errors.NotValid, gc.Commentf("number %q", bad))
	}
}

func (*valueSuite) TestInterface(c *gc.C) {
	v, err := jsonrpc.ParseValue([]byte(`{"a":[1,"b",true,null]}`))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(v.Interface(), jc.DeepEquals, map[string]any{
		"a": []any{json.Number("1"), "b", true, nil},
	})
}

func (*valueSuite) TestUnmarshalEmbedded(c *gc.C) {
	var holder struct {
		V jsonrpc.Value `json:"v"`
	}
	err := json.Unmarshal([]byte(`{"v":{"k":[1,2]}}`), &holder)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(holder.V.String(), gc.Equals, `{"k":[1,2]}`)
}

package xml

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"xmlsift/internal/schema"
)

func toySchema(fields ...schema.Field) *schema.Element {
	return &schema.Element{RootElement: "toy", Fields: fields}
}

func textField(name string) schema.Field {
	return schema.Field{Name: name, Kind: schema.KindText}
}

// TestCollect_FlatRecord verifies the basic text-field projection: one record
// element, two text children.
func TestCollect_FlatRecord(t *testing.T) {
	t.Parallel()

	input := `<toy><name>Brick</name><color>Blue</color></toy>`

	recs, err := Collect(context.Background(), strings.NewReader(input),
		toySchema(textField("name"), textField("color")))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []map[string]any{{"name": "Brick", "color": "Blue"}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected %#v, got %#v", want, recs)
	}
}

// TestCollect_MultipleRecords verifies one output record per record element,
// in document order.
func TestCollect_MultipleRecords(t *testing.T) {
	t.Parallel()

	input := `<toys><toy><name>A</name></toy><toy><name>B</name></toy></toys>`

	recs, err := Collect(context.Background(), strings.NewReader(input), toySchema(textField("name")))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []map[string]any{{"name": "A"}, {"name": "B"}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected %#v, got %#v", want, recs)
	}
}

// TestCollect_ArrayField verifies that array fields collect every matching
// child in document order, each projected through the nested fields.
func TestCollect_ArrayField(t *testing.T) {
	t.Parallel()

	input := `<toy><name>Brick</name>` +
		`<store><name>Target</name><location>Texas</location></store>` +
		`<store><name>Walmart</name><location>Arkansas</location></store></toy>`

	sch := toySchema(
		textField("name"),
		schema.Field{Name: "store", Kind: schema.KindArray, Fields: []schema.Field{
			textField("name"), textField("location"),
		}},
	)

	recs, err := Collect(context.Background(), strings.NewReader(input), sch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []map[string]any{{
		"name": "Brick",
		"store": []any{
			map[string]any{"name": "Target", "location": "Texas"},
			map[string]any{"name": "Walmart", "location": "Arkansas"},
		},
	}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected %#v, got %#v", want, recs)
	}
}

// TestCollect_ArrayAbsentNotEmpty verifies that an array field with zero
// matching children is omitted entirely — the key must not be present with an
// empty list. Downstream sinks rely on "present means non-empty".
func TestCollect_ArrayAbsentNotEmpty(t *testing.T) {
	t.Parallel()

	input := `<toy><name>Brick</name></toy>`

	sch := toySchema(
		textField("name"),
		schema.Field{Name: "store", Kind: schema.KindArray, Fields: []schema.Field{textField("name")}},
	)

	recs, err := Collect(context.Background(), strings.NewReader(input), sch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if _, ok := recs[0]["store"]; ok {
		t.Fatalf("store key must be absent, got %#v", recs[0]["store"])
	}
	if recs[0]["name"] != "Brick" {
		t.Fatalf("unexpected record: %#v", recs[0])
	}
}

// TestCollect_FirstMatchWins verifies that text and object fields use the
// first matching child in document order and ignore the rest.
func TestCollect_FirstMatchWins(t *testing.T) {
	t.Parallel()

	input := `<toy>` +
		`<name>First</name><name>Second</name>` +
		`<maker><name>A</name></maker><maker><name>B</name></maker>` +
		`</toy>`

	sch := toySchema(
		textField("name"),
		schema.Field{Name: "maker", Kind: schema.KindObject, Fields: []schema.Field{textField("name")}},
	)

	recs, err := Collect(context.Background(), strings.NewReader(input), sch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []map[string]any{{
		"name":  "First",
		"maker": map[string]any{"name": "A"},
	}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected %#v, got %#v", want, recs)
	}
}

// TestCollect_DeepNesting verifies projection through several levels of
// object/array nesting, with unmatched sibling elements ignored along the way.
func TestCollect_DeepNesting(t *testing.T) {
	t.Parallel()

	input := `<toy>
		<ignored>junk</ignored>
		<maker>
			<noise/>
			<address>
				<city>Billund</city>
				<zip> 7190 </zip>
			</address>
			<plants>
				<plant><line>A</line></plant>
				<plant><line>B</line></plant>
			</plants>
		</maker>
	</toy>`

	sch := toySchema(
		schema.Field{Name: "maker", Kind: schema.KindObject, Fields: []schema.Field{
			schema.Field{Name: "address", Kind: schema.KindObject, Fields: []schema.Field{
				textField("city"), textField("zip"),
			}},
			schema.Field{Name: "plants", Kind: schema.KindObject, Fields: []schema.Field{
				schema.Field{Name: "plant", Kind: schema.KindArray, Fields: []schema.Field{textField("line")}},
			}},
		}},
	)

	recs, err := Collect(context.Background(), strings.NewReader(input), sch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []map[string]any{{
		"maker": map[string]any{
			"address": map[string]any{"city": "Billund", "zip": "7190"},
			"plants": map[string]any{
				"plant": []any{
					map[string]any{"line": "A"},
					map[string]any{"line": "B"},
				},
			},
		},
	}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected %#v, got %#v", want, recs)
	}
}

// TestCollect_EmptyDocument verifies that a document containing zero record
// elements completes successfully with zero records (not an error).
func TestCollect_EmptyDocument(t *testing.T) {
	t.Parallel()

	recs, err := Collect(context.Background(), strings.NewReader(`<toys></toys>`), toySchema(textField("name")))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records, got %#v", recs)
	}
}

// TestCollect_MismatchedCloseTag verifies that malformed input fails with
// MalformedInputError rather than silently returning partial output.
func TestCollect_MismatchedCloseTag(t *testing.T) {
	t.Parallel()

	input := `<toy><name>Brick</name><color>Blue</toy>`

	recs, err := Collect(context.Background(), strings.NewReader(input), toySchema(textField("name")))
	if err == nil {
		t.Fatalf("expected error, got records %#v", recs)
	}
	var malformed *MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInputError, got %T: %v", err, err)
	}
}

// TestCollect_TruncatedDocument verifies that input ending mid-record fails
// with MalformedInputError instead of completing with a half-built record.
func TestCollect_TruncatedDocument(t *testing.T) {
	t.Parallel()

	input := `<toys><toy><name>A</name>`

	_, err := Collect(context.Background(), strings.NewReader(input), toySchema(textField("name")))
	var malformed *MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInputError, got %T: %v", err, err)
	}
}

// TestForEach_RecordsBeforeFailureStayDelivered verifies the failure contract:
// records closed before the malformed region are delivered to the callback and
// are not retracted when the run then fails.
func TestForEach_RecordsBeforeFailureStayDelivered(t *testing.T) {
	t.Parallel()

	input := `<toys><toy><name>A</name></toy><toy><oops></toy></toys>`

	var got []map[string]any
	err := ForEach(context.Background(), strings.NewReader(input), toySchema(textField("name")),
		func(rec map[string]any) error {
			got = append(got, rec)
			return nil
		})

	var malformed *MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInputError, got %T: %v", err, err)
	}
	want := []map[string]any{{"name": "A"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected delivered records %#v, got %#v", want, got)
	}
}

// TestForEach_CollectEquivalence verifies that streaming and collect modes
// produce identical records in identical order for the same input and schema.
func TestForEach_CollectEquivalence(t *testing.T) {
	t.Parallel()

	input := `<toys>
		<toy><name>A</name><store><name>S1</name></store></toy>
		<toy><name>B</name></toy>
		<toy><name>C</name><store><name>S2</name></store><store><name>S3</name></store></toy>
	</toys>`

	sch := toySchema(
		textField("name"),
		schema.Field{Name: "store", Kind: schema.KindArray, Fields: []schema.Field{textField("name")}},
	)

	collected, err := Collect(context.Background(), strings.NewReader(input), sch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	var streamed []map[string]any
	err = ForEach(context.Background(), strings.NewReader(input), sch, func(rec map[string]any) error {
		streamed = append(streamed, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}

	if !reflect.DeepEqual(collected, streamed) {
		t.Fatalf("collect/forEach mismatch:\ncollect: %#v\nforEach: %#v", collected, streamed)
	}
}

// TestCollect_Deterministic verifies that re-running the same input+schema
// yields structurally identical output across runs.
func TestCollect_Deterministic(t *testing.T) {
	t.Parallel()

	input := `<toys><toy><name>A</name><color>Red</color></toy><toy><name>B</name></toy></toys>`
	sch := toySchema(textField("name"), textField("color"))

	first, err := Collect(context.Background(), strings.NewReader(input), sch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := Collect(context.Background(), strings.NewReader(input), sch)
		if err != nil {
			t.Fatalf("Collect run %d: %v", i+2, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\nfirst: %#v\nagain: %#v", i+2, first, again)
		}
	}
}

// TestForEach_NestedSameNameRecord pins down the deliberate decision for
// same-named record elements nesting inside each other: the outermost element
// is the record, and the inner one is an ordinary child available to the
// schema — it does not start a record of its own.
func TestForEach_NestedSameNameRecord(t *testing.T) {
	t.Parallel()

	input := `<toys><toy><name>Outer</name><toy><name>Inner</name></toy></toy></toys>`

	sch := toySchema(
		textField("name"),
		schema.Field{Name: "toy", Kind: schema.KindObject, Fields: []schema.Field{textField("name")}},
	)

	recs, err := Collect(context.Background(), strings.NewReader(input), sch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	want := []map[string]any{{
		"name": "Outer",
		"toy":  map[string]any{"name": "Inner"},
	}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected one outer record %#v, got %#v", want, recs)
	}
}

// TestCollect_CaseInsensitiveAndPrefixStripped verifies the matching rules:
// tag case is folded and namespace prefixes are ignored on both the record
// element and field lookups.
func TestCollect_CaseInsensitiveAndPrefixStripped(t *testing.T) {
	t.Parallel()

	input := `<catalog xmlns:x="http://example.com/x">` +
		`<TOY><x:Name>Brick</x:Name><COLOR>Blue</COLOR></TOY>` +
		`</catalog>`

	recs, err := Collect(context.Background(), strings.NewReader(input),
		toySchema(textField("Name"), textField("color")))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	// Output keys keep the schema's spelling, not the document's.
	want := []map[string]any{{"Name": "Brick", "color": "Blue"}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected %#v, got %#v", want, recs)
	}
}

// TestCollect_TextConcatenationAndTrim verifies that split character data
// (text, CDATA, entities around a skipped child) is concatenated before the
// single trim, and that interior whitespace is preserved.
func TestCollect_TextConcatenationAndTrim(t *testing.T) {
	t.Parallel()

	input := `<toy><name>  Fire <![CDATA[&]]> Rescue &amp; Co  </name></toy>`

	recs, err := Collect(context.Background(), strings.NewReader(input), toySchema(textField("name")))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := recs[0]["name"]; got != "Fire & Rescue & Co" {
		t.Fatalf("expected %q, got %q", "Fire & Rescue & Co", got)
	}
}

// TestCollect_EmptyElementPresent verifies the present-vs-absent rule for text
// fields: a child that appeared with empty content yields an empty string,
// while a child that never appeared yields no key at all.
func TestCollect_EmptyElementPresent(t *testing.T) {
	t.Parallel()

	input := `<toy><name></name></toy>`

	recs, err := Collect(context.Background(), strings.NewReader(input),
		toySchema(textField("name"), textField("color")))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if v, ok := recs[0]["name"]; !ok || v != "" {
		t.Fatalf("name should be present and empty, got %#v", recs[0])
	}
	if _, ok := recs[0]["color"]; ok {
		t.Fatalf("color should be absent, got %#v", recs[0])
	}
}

// TestCollect_DeclaredLatin1Charset verifies that documents declaring a
// non-UTF-8 encoding are decoded through the charset reader.
func TestCollect_DeclaredLatin1Charset(t *testing.T) {
	t.Parallel()

	// 0xE9 is "é" in ISO-8859-1.
	input := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><toy><name>caf\xe9</name></toy>"

	recs, err := Collect(context.Background(), strings.NewReader(input), toySchema(textField("name")))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := recs[0]["name"]; got != "café" {
		t.Fatalf("expected %q, got %q", "café", got)
	}
}

// TestForEach_CallbackErrorAborts verifies that a callback failure stops the
// run immediately and propagates verbatim (not wrapped as malformed input).
func TestForEach_CallbackErrorAborts(t *testing.T) {
	t.Parallel()

	input := `<toys><toy><name>A</name></toy><toy><name>B</name></toy></toys>`

	sinkErr := fmt.Errorf("sink full")
	calls := 0
	err := ForEach(context.Background(), strings.NewReader(input), toySchema(textField("name")),
		func(map[string]any) error {
			calls++
			return sinkErr
		})

	if !errors.Is(err, sinkErr) {
		t.Fatalf("expected callback error, got %v", err)
	}
	var malformed *MalformedInputError
	if errors.As(err, &malformed) {
		t.Fatalf("callback error must not be wrapped as MalformedInputError")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one callback before abort, got %d", calls)
	}
}

// TestForEach_ContextCancellation verifies the run ends with ctx.Err() once
// the context is canceled.
func TestForEach_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	input := `<toys><toy><name>A</name></toy><toy><name>B</name></toy></toys>`
	err := ForEach(ctx, strings.NewReader(input), toySchema(textField("name")),
		func(map[string]any) error {
			cancel() // cancel after the first record; the loop must notice
			return nil
		})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// TestForEach_NilSchema verifies the guard for a missing or empty schema.
func TestForEach_NilSchema(t *testing.T) {
	t.Parallel()

	err := ForEach(context.Background(), strings.NewReader(`<a/>`), nil, func(map[string]any) error { return nil })
	if err == nil {
		t.Fatalf("expected error for nil schema")
	}
	err = ForEach(context.Background(), strings.NewReader(`<a/>`), &schema.Element{}, func(map[string]any) error { return nil })
	if err == nil {
		t.Fatalf("expected error for empty root element")
	}
}

// TestCollect_AttributesIgnored verifies that attributes never leak into the
// projected output (attribute extraction is out of scope).
func TestCollect_AttributesIgnored(t *testing.T) {
	t.Parallel()

	input := `<toy id="7"><name lang="en">Brick</name></toy>`

	recs, err := Collect(context.Background(), strings.NewReader(input),
		toySchema(textField("name"), textField("id"), textField("lang")))
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := []map[string]any{{"name": "Brick"}}
	if !reflect.DeepEqual(recs, want) {
		t.Fatalf("expected %#v, got %#v", want, recs)
	}
}

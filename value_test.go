package spanz

import (
	"errors"
	"math"
	"testing"
)

type stringerID int

func (s stringerID) String() string { return "id-" + string(rune('0'+int(s))) }

// codedErr and hostname dereference their receiver, so a nil pointer of
// either type panics if its method is called.
type codedErr struct{ code int }

func (e *codedErr) Error() string { return "code " + string(rune('0'+e.code)) }

type hostname struct{ name string }

func (h *hostname) String() string { return h.name }

type rawBytes []byte

func TestValueRootScalars(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"string", String("fred"), "fred"},
		{"empty string", String(""), ""},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"int", Int(-42), "-42"},
		{"uint", Uint(math.MaxUint64), "18446744073709551615"},
		{"float", Float(1.5), "1.5"},
		{"whole float", Float(3), "3"},
		{"null", Null(), "null"},
		{"nan", Float(math.NaN()), "NaN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.String(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestValueStructuredJSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"list of string", List(String("felicity")), `["felicity"]`},
		{"empty list", List(), `[]`},
		{"empty map", Map(map[string]Value{}), `{}`},
		{"mixed list", List(Int(1), String("x"), Bool(false), Null(), Float(2.5)), `[1,"x",false,null,2.5]`},
		{"map sorted", Map(map[string]Value{"b": Int(2), "a": String("one")}), `{"a":"one","b":2}`},
		{
			"nested",
			Map(map[string]Value{"list": List(Map(map[string]Value{"k": String("v")}))}),
			`{"list":[{"k":"v"}]}`,
		},
		{"non-finite nested", List(Float(math.Inf(1))), `["+Inf"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.String(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestValueOf(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
		kind  ValueKind
	}{
		{"nil", nil, "null", NullKind},
		{"string", "fred", "fred", StringKind},
		{"int", 7, "7", IntKind},
		{"int8", int8(-3), "-3", IntKind},
		{"uint16", uint16(9), "9", UintKind},
		{"float32", float32(0.5), "0.5", FloatKind},
		{"float32 keeps its precision", float32(1.1), "1.1", FloatKind},
		{"float32 in a list", []any{float32(1.1)}, "[1.1]", ListKind},
		{"bytes", []byte("hi"), "hi", StringKind},
		{"named bytes", rawBytes("hi"), "hi", StringKind},
		{"nil bytes", []byte(nil), "null", NullKind},
		{"typed nil error", (*codedErr)(nil), "null", NullKind},
		{"typed nil stringer", (*hostname)(nil), "null", NullKind},
		{"pointer error", &codedErr{code: 4}, "code 4", StringKind},
		{"bool", true, "true", BoolKind},
		{"any list", []any{"felicity", 1}, `["felicity",1]`, ListKind},
		{"string slice", []string{"a", "b"}, `["a","b"]`, ListKind},
		{"int array", [2]int{1, 2}, `[1,2]`, ListKind},
		{"any map", map[string]any{"x": []any{true}}, `{"x":[true]}`, MapKind},
		{"typed map", map[string]int{"x": 1}, `{"x":1}`, MapKind},
		{"error", errors.New("boom"), "boom", StringKind},
		{"stringer", stringerID(3), "id-3", StringKind},
		{"nil slice", []string(nil), "null", NullKind},
		{"value passthrough", Int(5), "5", IntKind},
		{"pointer", func() *int { v := 4; return &v }(), "4", IntKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ValueOf(tt.input)
			if v.Kind() != tt.kind {
				t.Errorf("Expected kind %d, got %d", tt.kind, v.Kind())
			}
			if got := v.String(); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestValueNestedStringIsQuotedOnlyWhenNested(t *testing.T) {
	root := ValueOf("fred").String()
	nested := ValueOf([]any{"fred"}).String()

	if root != "fred" {
		t.Errorf("Expected root string unquoted, got %s", root)
	}
	if nested != `["fred"]` {
		t.Errorf("Expected nested string quoted, got %s", nested)
	}
}

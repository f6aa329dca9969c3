package render

import (
	"testing"

	"google.golang.org/protobuf/types/known/structpb"
)

func mustStruct(t *testing.T, m map[string]interface{}) *structpb.Struct {
	t.Helper()
	st, err := structpb.NewStruct(m)
	if err != nil {
		t.Fatalf("structpb.NewStruct: %v", err)
	}
	return st
}

func TestInterpolate_UnknownPlaceholderSurvives(t *testing.T) {
	st := mustStruct(t, map[string]interface{}{"msg": "hi {{name}} {{unset}}"})

	got := Interpolate(st, map[string]string{"name": "Ann"})

	if want := "hi Ann {{unset}}"; got.Fields["msg"].GetStringValue() != want {
		t.Fatalf("got %q, want %q", got.Fields["msg"].GetStringValue(), want)
	}
}

func TestInterpolate_NoNestedExpansion(t *testing.T) {
	st := mustStruct(t, map[string]interface{}{"msg": "{{a}}"})

	// Значение переменной само содержит токен — второй проход запрещен
	got := Interpolate(st, map[string]string{"a": "{{b}}", "b": "evil"})

	if want := "{{b}}"; got.Fields["msg"].GetStringValue() != want {
		t.Fatalf("got %q, want %q", got.Fields["msg"].GetStringValue(), want)
	}
}

func TestInterpolate_WalksNestedStructsAndLists(t *testing.T) {
	st := mustStruct(t, map[string]interface{}{
		"outer": map[string]interface{}{
			"items": []interface{}{"{{x}}", float64(42), true},
		},
	})

	got := Interpolate(st, map[string]string{"x": "ok"})

	items := got.Fields["outer"].GetStructValue().Fields["items"].GetListValue().GetValues()
	if items[0].GetStringValue() != "ok" {
		t.Errorf("string leaf not replaced: %v", items[0])
	}
	if items[1].GetNumberValue() != 42 {
		t.Errorf("number leaf changed: %v", items[1])
	}
	if items[2].GetBoolValue() != true {
		t.Errorf("bool leaf changed: %v", items[2])
	}
}

func TestInterpolate_OriginalNotMutated(t *testing.T) {
	st := mustStruct(t, map[string]interface{}{"msg": "{{name}}"})

	_ = Interpolate(st, map[string]string{"name": "Ann"})

	if st.Fields["msg"].GetStringValue() != "{{name}}" {
		t.Fatal("source struct was mutated")
	}
}

func TestInterpolate_EmptyVariables(t *testing.T) {
	st := mustStruct(t, map[string]interface{}{"msg": "{{name}}"})

	got := Interpolate(st, nil)
	if got != st {
		t.Fatal("expected original struct back for empty variables")
	}
}

package model

import (
	"encoding/json"
	"testing"
)

func TestNotePatchDecodesContentPresence(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		set     bool
		content *string
	}{
		{name: "absent", body: `{"title":"Bio"}`},
		{name: "null", body: `{"content":null}`, set: true},
		{name: "value", body: `{"content":"cells"}`, set: true, content: stringPointer("cells")},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var patch NotePatch
			if err := json.Unmarshal([]byte(testCase.body), &patch); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if patch.Content.Set != testCase.set {
				t.Fatalf("expected set=%v, got %#v", testCase.set, patch.Content)
			}
			switch {
			case testCase.content == nil && patch.Content.Value != nil:
				t.Fatalf("expected nil content, got %q", *patch.Content.Value)
			case testCase.content != nil && (patch.Content.Value == nil || *patch.Content.Value != *testCase.content):
				t.Fatalf("expected content %q, got %#v", *testCase.content, patch.Content.Value)
			}
		})
	}
}

func TestNotePatchEncodesOnlyPresentFields(t *testing.T) {
	testCases := []struct {
		name  string
		patch NotePatch
		want  string
	}{
		{name: "absent", patch: NotePatch{Title: stringPointer("Bio")}, want: `{"title":"Bio"}`},
		{name: "null", patch: NotePatch{Content: SetNull[string]()}, want: `{"content":null}`},
		{name: "value", patch: NotePatch{Content: SetTo("cells")}, want: `{"content":"cells"}`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			encoded, err := json.Marshal(testCase.patch)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if string(encoded) != testCase.want {
				t.Fatalf("expected %s, got %s", testCase.want, encoded)
			}
		})
	}
}

func TestNullableApply(t *testing.T) {
	current := stringPointer("old")
	Nullable[string]{}.Apply(&current)
	if current == nil || *current != "old" {
		t.Fatalf("absent field must keep the value, got %v", current)
	}
	SetNull[string]().Apply(&current)
	if current != nil {
		t.Fatalf("null field must clear the value, got %q", *current)
	}
}

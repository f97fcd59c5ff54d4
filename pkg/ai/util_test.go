package ai

import (
	"errors"
	"testing"
)

func TestUnmarshalFlexible_GraphExtraction(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "valid json",
			input: `{"entities":[{"name":"Scrooge","type":"Character","description":"a miser"}],"relationships":[]}`,
		},
		{
			name:  "unquoted keys and trailing comma",
			input: `{entities:[{name:'Scrooge',type:'Character',description:'a miser',}],relationships:[]}`,
		},
		{
			name:  "markdown fence",
			input: "```json\n{\"entities\":[{\"name\":\"Scrooge\",\"type\":\"Character\",\"description\":\"a miser\"}]}\n```",
		},
		{
			name:  "stringified",
			input: `"{\"entities\":[{\"name\":\"Scrooge\",\"type\":\"Character\",\"description\":\"a miser\"}]}"`,
		},
		{
			name:  "duplicate leading brace",
			input: "{\n{\"entities\":[{\"name\":\"Scrooge\",\"type\":\"Character\",\"description\":\"a miser\"}]}",
		},
		{
			name:  "missing closing brackets",
			input: `{"entities":[{"name":"Scrooge","type":"Character","description":"a miser"`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got GraphExtraction
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible() error = %v", err)
			}
			if len(got.Entities) != 1 || got.Entities[0].Name != "Scrooge" || got.Entities[0].Type != "Character" {
				t.Fatalf("UnmarshalFlexible() got = %+v", got)
			}
		})
	}
}

func TestUnmarshalFlexible_Unrecoverable(t *testing.T) {
	var got QueryExtraction
	err := UnmarshalFlexible("hello", &got)
	if err == nil {
		t.Fatalf("expected error for unrecoverable input")
	}
	if !errors.Is(err, ErrMalformedExtraction) {
		t.Fatalf("expected ErrMalformedExtraction, got %v", err)
	}
}

func TestGraphExtractionValidate(t *testing.T) {
	var nilResult *GraphExtraction
	if err := nilResult.Validate(); !errors.Is(err, ErrMalformedExtraction) {
		t.Fatalf("nil result: got %v", err)
	}
	if err := (&GraphExtraction{}).Validate(); !errors.Is(err, ErrEmptyExtraction) {
		t.Fatalf("empty result: got %v", err)
	}
	bad := &GraphExtraction{Relationships: []ExtractedRelationship{{Source: "A"}}}
	if err := bad.Validate(); !errors.Is(err, ErrMalformedExtraction) {
		t.Fatalf("missing endpoint: got %v", err)
	}
	ok := &GraphExtraction{Entities: []ExtractedEntity{{Name: "A", Type: "Place"}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid result: got %v", err)
	}
}

func TestEmbedTextsKeepsEmptyInputs(t *testing.T) {
	e := &fakeEmbedder{}
	got, err := EmbedTexts(t.Context(), e, []string{"a", "", "bb"})
	if err != nil {
		t.Fatal(err)
	}
	if got[1] != nil {
		t.Fatalf("expected nil vector for empty input, got %v", got[1])
	}
	if got[0][0] != 1 || got[2][0] != 2 {
		t.Fatalf("vectors out of order: %v", got)
	}
}

func TestEmbedTextsFallsBackToSingleRequests(t *testing.T) {
	e := &fakeEmbedder{failBatch: true}
	got, err := EmbedTexts(t.Context(), e, []string{"a", "bb"})
	if err != nil {
		t.Fatal(err)
	}
	if got[0][0] != 1 || got[1][0] != 2 {
		t.Fatalf("unexpected vectors: %v", got)
	}
}

package domain

import (
	"errors"
	"testing"
	"time"
)

func TestValidateIngest(t *testing.T) {
	tests := []struct {
		name    string
		kind    SourceKind
		payload []byte
		wantErr error
	}{
		{"valid text", KindText, []byte("hello"), nil},
		{"valid csv", KindCSV, []byte("a,b\n1,2"), nil},
		{"unknown kind", SourceKind("docx"), []byte("x"), ErrUnsupportedKind},
		{"empty payload", KindPDF, nil, ErrEmptyExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIngest(tt.kind, tt.payload, "origin")
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateChunk(t *testing.T) {
	good := Chunk{Content: "text", Source: "report.pdf", Kind: KindPDF, Page: 3, CreatedAt: time.Now()}
	if err := ValidateChunk(good); err != nil {
		t.Fatalf("valid chunk rejected: %v", err)
	}

	for _, c := range []Chunk{
		{Content: "   ", Source: "a", Kind: KindText},
		{Content: "x", Source: "", Kind: KindText},
		{Content: "x", Source: "a", Kind: SourceKind("nope")},
		{Content: "x", Source: "a", Kind: KindPDF, Page: -1},
	} {
		if err := ValidateChunk(c); err == nil {
			t.Errorf("expected error for chunk %+v", c)
		}
	}
}

func TestValidateQuestion(t *testing.T) {
	if err := ValidateQuestion("why?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateQuestion("  \n"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestExtractionErrorWrapping(t *testing.T) {
	err := &ExtractionError{Kind: KindPDF, Origin: "report.pdf", Chars: 0, Wrapped: ErrEmptyExtraction}
	if !errors.Is(err, ErrEmptyExtraction) {
		t.Fatal("ExtractionError should unwrap to ErrEmptyExtraction")
	}
}

func TestUpsertErrorWrapping(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &UpsertError{Total: 4, FailedIndexes: []int{2, 3}, Wrapped: cause}
	if !errors.Is(err, cause) {
		t.Fatal("UpsertError should unwrap to its cause")
	}
}

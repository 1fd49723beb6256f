package providers

import (
	"context"
	"testing"
)

func TestMockRecognizerPageLookup(t *testing.T) {
	rec := NewMockRecognizer(map[int]string{1: "cover", 4: "ROOF PLAN"})

	tests := []struct {
		name string
		in   PageInput
		want string
	}{
		{"original page wins", PageInput{Page: 1, OriginalPage: 4}, "ROOF PLAN"},
		{"local page without original", PageInput{Page: 1}, "cover"},
		{"unknown page", PageInput{Page: 9, OriginalPage: 9}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rec.Recognize(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Recognize() error = %v", err)
			}
			if got.Text != tt.want {
				t.Errorf("Text = %q, want %q", got.Text, tt.want)
			}
			if (got.Confidence > 0) != (tt.want != "") {
				t.Errorf("Confidence = %v for text %q", got.Confidence, got.Text)
			}
		})
	}
}

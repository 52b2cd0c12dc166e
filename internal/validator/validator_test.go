package validator

import (
	"testing"
)

type pathParams struct {
	ExamID string `json:"exam_id" binding:"required,max=64,resource_id"`
}

type pageQuery struct {
	PerPage int `json:"per_page" binding:"omitempty,min=1,max=100"`
}

func TestStruct(t *testing.T) {
	Setup()

	tests := []struct {
		name      string
		input     interface{}
		wantField string
		wantMsg   string
	}{
		{name: "valid id", input: &pathParams{ExamID: "exam-2024_01"}},
		{name: "missing id", input: &pathParams{}, wantField: "exam_id", wantMsg: "exam_id is a required field"},
		{
			name:      "id with slash",
			input:     &pathParams{ExamID: "exam/1"},
			wantField: "exam_id",
			wantMsg:   "exam_id may only contain letters, digits, '-' and '_'",
		},
		{name: "zero per_page skipped", input: &pageQuery{}},
		{name: "per_page too large", input: &pageQuery{PerPage: 101}, wantField: "per_page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Struct(tt.input)
			if tt.wantField == "" {
				if fields != nil {
					t.Fatalf("Struct() = %v, want nil", fields)
				}
				return
			}
			msg, ok := fields[tt.wantField]
			if !ok {
				t.Fatalf("Struct() = %v, want error on %q", fields, tt.wantField)
			}
			if tt.wantMsg != "" && msg != tt.wantMsg {
				t.Errorf("message = %q, want %q", msg, tt.wantMsg)
			}
		})
	}
}

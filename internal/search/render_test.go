package search

import (
	"testing"
	"time"
)

func TestQuery_String(t *testing.T) {
	asOf := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

	tests := []struct {
		name  string
		query Query
		want  string
	}{
		{"empty", Query{}, ""},
		{
			name:  "from before epoch",
			query: Query{FromAddrs: []string{"acme.com"}, BeforeDate: &asOf},
			want:  "from:acme.com before:1700000000",
		},
		{
			name:  "to before epoch",
			query: Query{ToAddrs: []string{"a@gmail.com"}, BeforeDate: &asOf},
			want:  "to:a@gmail.com before:1700000000",
		},
		{
			name:  "quoted values",
			query: Query{SubjectTerms: []string{"weekly sync"}, Labels: []string{"My Label"}},
			want:  `subject:"weekly sync" label:"My Label"`,
		},
		{
			name:  "text terms after operators",
			query: Query{TextTerms: []string{"invoice", "re: meeting"}, HasAttachment: boolPtr(true)},
			want:  `has:attachment invoice "re: meeting"`,
		},
		{
			name:  "sizes",
			query: Query{LargerThan: i64Ptr(1024), SmallerThan: i64Ptr(2048)},
			want:  "larger:1024 smaller:2048",
		},
		{
			name:  "message id",
			query: Query{RFC822MsgID: "abc@example.com"},
			want:  "rfc822msgid:abc@example.com",
		},
		{
			name:  "passthrough verbatim",
			query: Query{FromAddrs: []string{"a@b.com"}, Passthrough: []string{"in:inbox", "-is:chat"}},
			want:  "from:a@b.com in:inbox -is:chat",
		},
		{
			name:  "blank values skipped",
			query: Query{FromAddrs: []string{" "}, TextTerms: []string{""}},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.query.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQuery_RoundTrip(t *testing.T) {
	input := `from:alice@example.com subject:"project update" label:INBOX has:attachment after:2024-01-01 "quarterly report"`
	q := Parse(input)
	again := Parse(q.String())
	assertQueryEqual(t, *again, *q)
}

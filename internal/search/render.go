package search

import (
	"strconv"
	"strings"
)

// String renders the query in Gmail search syntax. Dates are rendered as
// epoch seconds so the result does not depend on the mailbox time zone.
func (q Query) String() string {
	var parts []string
	add := func(op string, values ...string) {
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				parts = append(parts, op+":"+quote(v))
			}
		}
	}

	add("from", q.FromAddrs...)
	add("to", q.ToAddrs...)
	add("cc", q.CcAddrs...)
	add("subject", q.SubjectTerms...)
	add("label", q.Labels...)
	if q.HasAttachment != nil && *q.HasAttachment {
		parts = append(parts, "has:attachment")
	}
	if q.BeforeDate != nil {
		parts = append(parts, "before:"+strconv.FormatInt(q.BeforeDate.Unix(), 10))
	}
	if q.AfterDate != nil {
		parts = append(parts, "after:"+strconv.FormatInt(q.AfterDate.Unix(), 10))
	}
	if q.LargerThan != nil {
		parts = append(parts, "larger:"+strconv.FormatInt(*q.LargerThan, 10))
	}
	if q.SmallerThan != nil {
		parts = append(parts, "smaller:"+strconv.FormatInt(*q.SmallerThan, 10))
	}
	add("rfc822msgid", q.RFC822MsgID)
	parts = append(parts, q.Passthrough...)

	for _, term := range q.TextTerms {
		if term = strings.TrimSpace(term); term != "" {
			parts = append(parts, quote(term))
		}
	}
	return strings.Join(parts, " ")
}

// quote wraps values containing whitespace or a colon in double quotes.
// Embedded double quotes are dropped; Gmail has no escape for them.
func quote(v string) string {
	if !strings.ContainsAny(v, " \t:\"") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, "") + `"`
}

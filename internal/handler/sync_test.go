package handler

import (
	"encoding/json"
	"testing"
)

func TestParseStorefrontTarget(t *testing.T) {
	cases := []struct {
		raw    string
		want   []uint64
		wantOK bool
	}{
		{`"all"`, nil, true},
		{`"ALL"`, nil, true},
		{``, nil, true},
		{`null`, nil, true},
		{`3`, []uint64{3}, true},
		{`"3"`, []uint64{3}, true},
		{`[1,2,3]`, []uint64{1, 2, 3}, true},
		{`0`, nil, false},
		{`"0"`, nil, false},
		{`[1,0]`, nil, false},
		{`"some"`, nil, false},
		{`[]`, nil, false},
		{`{"id":1}`, nil, false},
	}
	for _, c := range cases {
		got, ok := parseStorefrontTarget(json.RawMessage(c.raw))
		if ok != c.wantOK {
			t.Errorf("parseStorefrontTarget(%s) ok=%v want %v", c.raw, ok, c.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if len(got) != len(c.want) {
			t.Errorf("parseStorefrontTarget(%s)=%v want %v", c.raw, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("parseStorefrontTarget(%s)=%v want %v", c.raw, got, c.want)
				break
			}
		}
	}
}

func TestParseDate(t *testing.T) {
	if _, ok := parseDate("2024-05-01"); !ok {
		t.Fatal("valid date rejected")
	}
	if _, ok := parseDate("05/01/2024"); ok {
		t.Fatal("wrong layout accepted")
	}
	if _, ok := parseDate(""); ok {
		t.Fatal("empty date accepted")
	}
}

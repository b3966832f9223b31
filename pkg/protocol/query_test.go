package protocol

import "testing"

func TestXPathContents(t *testing.T) {
	tests := []struct {
		xpath string
		want  string
	}{
		{`//node[@name="alice"]`, "alice"},
		{`//node[@name='bob']`, "bob"},
		{`//node[@name="first"][@addr="second"]`, "first"},
		{`//node[@name=""]`, ""},
		{`//node`, DefaultXPathContents},
		{`//node[@name="unterminated]`, DefaultXPathContents},
		{``, DefaultXPathContents},
	}

	for _, tt := range tests {
		t.Run(tt.xpath, func(t *testing.T) {
			q := &XPathQuery{XPath: tt.xpath}
			if got := q.Contents(); got != tt.want {
				t.Errorf("Contents() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBroadcastQueryCodec(t *testing.T) {
	q := &BroadcastQuery{
		QueryGuid:   NewGUID(),
		Origin:      hub("origin"),
		VisitedHubs: []NodeInfo{hub("h1")},
		Query:       (&NodeLookup{Target: NewGUID()}).Encode(),
	}

	var got BroadcastQuery
	if err := got.Decode(q.Encode()); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.QueryGuid != q.QueryGuid || len(got.VisitedHubs) != 1 {
		t.Errorf("Decode() = %+v", got)
	}

	var lookup NodeLookup
	if err := lookup.Decode(got.Query); err != nil {
		t.Fatalf("NodeLookup.Decode() error = %v", err)
	}

	var result QueryResult
	r := &QueryResult{QueryGuid: q.QueryGuid, Node: hub("match")}
	if err := result.Decode(r.Encode()); err != nil {
		t.Fatalf("QueryResult.Decode() error = %v", err)
	}
	if result.Node.Name != "match" {
		t.Errorf("QueryResult.Node = %v", result.Node)
	}
}

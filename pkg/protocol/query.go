package protocol

import (
	"fmt"
	"strings"
)

// DefaultXPathContents is what an XPath query matches when its expression
// holds no quoted literal.
const DefaultXPathContents = "42"

// BroadcastQuery asks a hub to evaluate Query against itself and its peers
// and to acknowledge with the hubs worth asking next (BQry).
type BroadcastQuery struct {
	QueryGuid   GUID
	Origin      NodeInfo
	VisitedHubs []NodeInfo
	Query       *Message
}

// Encode encodes the query
func (q *BroadcastQuery) Encode() *Message {
	msg := NewMessage(TagBroadcastQuery)
	msg.AppendGUID(q.QueryGuid)
	AppendNodeInfo(msg, q.Origin)
	AppendNodeInfoList(msg, q.VisitedHubs)
	msg.AppendMessage(q.Query)
	return msg
}

// Decode decodes a BQry message
func (q *BroadcastQuery) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagBroadcastQuery); err != nil {
		return err
	}
	msg.Rewind()

	var err error
	if q.QueryGuid, err = msg.ExtractGUID(); err != nil {
		return fieldError(TagBroadcastQuery, "QueryGuid", err)
	}
	if q.Origin, err = ExtractNodeInfo(msg); err != nil {
		return fieldError(TagBroadcastQuery, "Origin", err)
	}
	if q.VisitedHubs, err = ExtractNodeInfoList(msg); err != nil {
		return fieldError(TagBroadcastQuery, "VisitedHubs", err)
	}
	if q.Query, err = msg.ExtractMessage(); err != nil {
		return fieldError(TagBroadcastQuery, "Query", err)
	}
	if q.QueryGuid == EmptyGUID {
		return fieldError(TagBroadcastQuery, "QueryGuid", fmt.Errorf("%w: empty guid", ErrMalformed))
	}
	if q.Query == nil {
		return fieldError(TagBroadcastQuery, "Query", fmt.Errorf("%w: missing query", ErrMalformed))
	}
	return msg.AssertAtEnd()
}

// NodeLookup matches the node with the given identity (NLkp)
type NodeLookup struct {
	Target GUID
}

// Encode encodes the lookup
func (l *NodeLookup) Encode() *Message {
	msg := NewMessage(TagNodeLookup)
	msg.AppendGUID(l.Target)
	return msg
}

// Decode decodes an NLkp message
func (l *NodeLookup) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagNodeLookup); err != nil {
		return err
	}
	msg.Rewind()
	var err error
	if l.Target, err = msg.ExtractGUID(); err != nil {
		return fieldError(TagNodeLookup, "Target", err)
	}
	return msg.AssertAtEnd()
}

// XPathQuery matches nodes by a literal in an XPath-style expression (XPQM)
type XPathQuery struct {
	XPath string
}

// Contents returns the first quoted literal of the expression, or
// DefaultXPathContents when there is none.
func (x *XPathQuery) Contents() string {
	start := strings.IndexAny(x.XPath, `"'`)
	if start < 0 {
		return DefaultXPathContents
	}
	quote := x.XPath[start]
	end := strings.IndexByte(x.XPath[start+1:], quote)
	if end < 0 {
		return DefaultXPathContents
	}
	return x.XPath[start+1 : start+1+end]
}

// Encode encodes the query
func (x *XPathQuery) Encode() *Message {
	msg := NewMessage(TagXPathQuery)
	msg.AppendString(x.XPath)
	return msg
}

// Decode decodes an XPQM message
func (x *XPathQuery) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagXPathQuery); err != nil {
		return err
	}
	msg.Rewind()
	var err error
	if x.XPath, err = msg.ExtractString(); err != nil {
		return fieldError(TagXPathQuery, "XPath", err)
	}
	return msg.AssertAtEnd()
}

// QueryResult reports one node matching a broadcast query (QRes)
type QueryResult struct {
	QueryGuid GUID
	Node      NodeInfo
}

// Encode encodes the result
func (r *QueryResult) Encode() *Message {
	msg := NewMessage(TagQueryResult)
	msg.AppendGUID(r.QueryGuid)
	AppendNodeInfo(msg, r.Node)
	return msg
}

// Decode decodes a QRes message
func (r *QueryResult) Decode(msg *Message) error {
	if err := msg.ExpectIdentifier(TagQueryResult); err != nil {
		return err
	}
	msg.Rewind()
	var err error
	if r.QueryGuid, err = msg.ExtractGUID(); err != nil {
		return fieldError(TagQueryResult, "QueryGuid", err)
	}
	if r.Node, err = ExtractNodeInfo(msg); err != nil {
		return fieldError(TagQueryResult, "Node", err)
	}
	return msg.AssertAtEnd()
}

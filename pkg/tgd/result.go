package tgd

// Query is one logical request sent over a connection. Bookmarks carry the
// causal-ordering tokens of the session issuing it.
type Query struct {
	Text       string
	Parameters map[string]interface{}
	Bookmarks  []string
}

// Record is a single row of a result stream.
type Record struct {
	Keys   []string
	Values []interface{}
}

// Get returns the value stored under key.
func (r *Record) Get(key string) (interface{}, bool) {
	for i, k := range r.Keys {
		if k == key {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Counters indicate the mutations an operation performed.
type Counters struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
}

// ContainsUpdates reports whether the operation changed anything.
func (c Counters) ContainsUpdates() bool {
	return c.NodesCreated > 0 || c.NodesDeleted > 0 ||
		c.RelationshipsCreated > 0 || c.RelationshipsDeleted > 0 ||
		c.PropertiesSet > 0
}

// Summary is the metadata trailing a result stream. Bookmark is the causal
// token the server minted for this operation, chained by the session into
// the next query.
type Summary struct {
	Counters Counters
	Bookmark string
	Server   ServerAddress
}

// Result is a fully-received result stream plus its summary.
type Result struct {
	Records []*Record
	Summary Summary
}

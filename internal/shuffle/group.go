package shuffle

import "fmt"

// Grouper cuts a key-sorted stream into one value sequence per distinct key.
//
//	g := NewGrouper(stream)
//	for g.NextKey() {
//		reduce(g.Key(), g.Values())
//	}
//	if err := g.Err(); err != nil { ... }
type Grouper struct {
	stream Stream

	// pending is true when stream is positioned on a record that has not
	// been handed out yet.
	pending bool
	eof     bool

	key    string
	values *Values
	groups int64
	err    error
}

func NewGrouper(stream Stream) *Grouper {
	return &Grouper{stream: stream}
}

// NextKey moves to the next distinct key, skipping any values of the current
// key that the caller did not consume.
func (g *Grouper) NextKey() bool {
	if g.values != nil {
		g.values.drain()
		g.values.closed = true
		g.values = nil
	}
	if g.eof {
		return false
	}
	if !g.pending && !g.advance() {
		return false
	}

	if g.groups > 0 && g.stream.Key() < g.key {
		g.err = fmt.Errorf("stream is not sorted: key %q after %q", g.stream.Key(), g.key)
		g.eof = true
		return false
	}

	g.key = g.stream.Key()
	g.values = &Values{grouper: g, first: true}
	g.groups++
	return true
}

func (g *Grouper) Key() string {
	return g.key
}

// Values returns the values of the current key. It is valid until the next
// call to NextKey.
func (g *Grouper) Values() *Values {
	return g.values
}

func (g *Grouper) Err() error {
	if g.err != nil {
		return g.err
	}
	return g.stream.Err()
}

// Groups is the number of distinct keys seen so far.
func (g *Grouper) Groups() int64 {
	return g.groups
}

func (g *Grouper) advance() bool {
	if g.stream.Next() {
		g.pending = true
		return true
	}
	g.pending = false
	g.eof = true
	return false
}

type Values struct {
	grouper *Grouper
	first   bool
	closed  bool
	value   []byte
	count   int64
}

func (v *Values) Next() bool {
	if v.closed {
		return false
	}
	g := v.grouper
	if v.first {
		v.first = false
	} else if !g.advance() {
		v.closed = true
		return false
	}
	if !g.pending || g.stream.Key() != g.key {
		v.closed = true
		return false
	}
	g.pending = false
	v.value = g.stream.Value()
	v.count++
	return true
}

func (v *Values) Value() []byte {
	if v.closed {
		return nil
	}
	return v.value
}

func (v *Values) Err() error {
	return v.grouper.Err()
}

// Count is the number of values handed out so far.
func (v *Values) Count() int64 {
	return v.count
}

func (v *Values) drain() {
	for v.Next() {
	}
}

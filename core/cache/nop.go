package cache

// Nop is a cache that stores nothing. Useful to disable caching without
// branching at the call site.
type Nop struct{}

func NewNop() *Nop { return &Nop{} }

func (n *Nop) Get(string) (any, bool)        { return nil, false }
func (n *Nop) Put(string, any, ...PutOption) {}
func (n *Nop) Delete(string)                 {}

var _ Cache = (*Nop)(nil)

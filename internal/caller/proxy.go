package caller

// RemoteFunc calls one remote function by its bound name.
type RemoteFunc func(kwargs map[string]any) (*Promise, error)

// Proxy hands out RemoteFuncs bound to names, so call sites read like local
// function calls. It keeps no state of its own.
type Proxy struct {
	c *Caller
}

// Proxy returns a Proxy issuing calls through c.
func (c *Caller) Proxy() Proxy {
	return Proxy{c: c}
}

// Func binds name.
func (p Proxy) Func(name string) RemoteFunc {
	return func(kwargs map[string]any) (*Promise, error) {
		return p.c.Call(name, kwargs)
	}
}

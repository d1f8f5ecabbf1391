// Package registry holds the graph's live node/port/link tables plus a
// small pub/sub event bus for graph-change notifications (§9's AddListener
// contract). Grounded on other_examples/bgpfix-bgpfix's Pipe.KV
// (*xsync.MapOf[string, any]) and its events map[string][]*Handler
// listener chain: xsync.MapOf gives lock-free concurrent reads for the
// control channel and the main loop to share without a mutex (§5: "Port
// queues, buffer lists, port maps: main-loop only" still allows a
// concurrent-safe map since writers are already serialized to the main
// loop, readers are not).
package registry

import (
	"strconv"
	"sync"

	"github.com/puzpuzpuz/xsync/v2"

	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/link"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
)

// key renders a uint32 id as the string key xsync.MapOf expects, matching
// the teacher's *xsync.MapOf[string, any] instantiation (NewMapOf[V]()
// always keys on string in this stack's version of the library).
func key(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// NodeEntry is one registered node: its implementation, ports, and
// activation wiring. Node-level scheduling state (target lists, driver
// flag) lives in internal/walk, which reads this table but does not own
// it.
type NodeEntry struct {
	ID    uint32
	Impl  interfaces.NodeImpl
	Ports map[uint32]*port.Port
}

// Registry is the graph's id->object tables plus an event bus, shared by
// the main loop and the control channel (§4.7, §9).
type Registry struct {
	nodes *xsync.MapOf[*NodeEntry]
	links *xsync.MapOf[*link.Link]

	mu       sync.Mutex
	handlers map[string][]func(interfaces.Event)
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		nodes:    xsync.NewMapOf[*NodeEntry](),
		links:    xsync.NewMapOf[*link.Link](),
		handlers: make(map[string][]func(interfaces.Event)),
	}
}

// AddNode registers a node and fires an "add_node" event.
func (r *Registry) AddNode(e *NodeEntry) {
	r.nodes.Store(key(e.ID), e)
	r.emit(interfaces.Event{Kind: "add_node", NodeID: e.ID})
}

// RemoveNode unregisters a node and fires a "remove_node" event.
func (r *Registry) RemoveNode(id uint32) {
	r.nodes.Delete(key(id))
	r.emit(interfaces.Event{Kind: "remove_node", NodeID: id})
}

// Node looks up a registered node by id.
func (r *Registry) Node(id uint32) (*NodeEntry, bool) {
	return r.nodes.Load(key(id))
}

// Nodes returns a snapshot slice of every registered node. Safe to call
// concurrently with AddNode/RemoveNode; xsync.MapOf's Range iterates a
// consistent-enough view for graph-walk purposes (§4.5 already requires
// the walk to re-run on every topology change, so a slightly stale
// snapshot is corrected on the next walk).
func (r *Registry) Nodes() []*NodeEntry {
	out := make([]*NodeEntry, 0, r.nodes.Size())
	r.nodes.Range(func(_ string, v *NodeEntry) bool {
		out = append(out, v)
		return true
	})
	return out
}

// AddLink registers a link and fires an "add_link" event.
func (r *Registry) AddLink(l *link.Link) {
	r.links.Store(key(l.ID), l)
	r.emit(interfaces.Event{Kind: "add_link"})
}

// RemoveLink unregisters a link and fires a "remove_link" event.
func (r *Registry) RemoveLink(id uint32) {
	r.links.Delete(key(id))
	r.emit(interfaces.Event{Kind: "remove_link"})
}

// Links returns a snapshot slice of every registered link.
func (r *Registry) Links() []*link.Link {
	out := make([]*link.Link, 0, r.links.Size())
	r.links.Range(func(_ string, v *link.Link) bool {
		out = append(out, v)
		return true
	})
	return out
}

// On registers fn to be called for every event of the given kind ("" for
// every kind), matching bgpfix's events map[string][]*Handler.
func (r *Registry) On(kind string, fn func(interfaces.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], fn)
}

func (r *Registry) emit(ev interfaces.Event) {
	r.mu.Lock()
	handlers := append([]func(interfaces.Event){}, r.handlers[ev.Kind]...)
	handlers = append(handlers, r.handlers[""]...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

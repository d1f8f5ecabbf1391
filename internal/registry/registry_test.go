package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
)

func TestAddAndLookupNode(t *testing.T) {
	r := New()
	e := &NodeEntry{ID: 1, Ports: map[uint32]*port.Port{
		0: port.New(0, 1, port.DirectionOutput),
	}}
	r.AddNode(e)

	got, ok := r.Node(1)
	require.True(t, ok)
	require.Equal(t, e, got)
	require.Len(t, r.Nodes(), 1)

	r.RemoveNode(1)
	_, ok = r.Node(1)
	require.False(t, ok)
}

func TestEventBusFansOutToKindAndWildcard(t *testing.T) {
	r := New()
	var kindEvents, wildcardEvents []interfaces.Event

	r.On("add_node", func(ev interfaces.Event) { kindEvents = append(kindEvents, ev) })
	r.On("", func(ev interfaces.Event) { wildcardEvents = append(wildcardEvents, ev) })

	r.AddNode(&NodeEntry{ID: 5})
	r.RemoveNode(5)

	require.Len(t, kindEvents, 1)
	require.Equal(t, uint32(5), kindEvents[0].NodeID)
	require.Len(t, wildcardEvents, 2)
}

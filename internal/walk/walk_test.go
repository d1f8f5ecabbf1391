package walk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-mediagraph/internal/link"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

func TestElectDriverDeterministicTieBreak(t *testing.T) {
	// 5 and 2 are linked into one component so both candidates compete.
	out := port.New(0, 5, port.DirectionOutput)
	in := port.New(0, 2, port.DirectionInput)
	connected, err := link.Connect(1, out, in, srcFormat(), nil)
	require.NoError(t, err)

	nodes := []NodeInfo{
		{ID: 5, CanDrive: true},
		{ID: 2, CanDrive: true},
		{ID: 8, CanDrive: false},
	}
	plan := Compute(nodes, []*link.Link{connected})
	require.Equal(t, uint32(2), plan.DriverOf[2])
	require.Equal(t, uint32(2), plan.DriverOf[5])
	// node 8 is disconnected from 2/5 with no links, so it forms its own
	// component with no driver candidate and is absent from DriverOf.
	_, ok := plan.DriverOf[8]
	require.False(t, ok)
}

func TestTargetListHoldsLinkedSuccessor(t *testing.T) {
	src := port.New(0, 1, port.DirectionOutput)
	sink := port.New(0, 2, port.DirectionInput)
	connected, err := link.Connect(1, src, sink, srcFormat(), nil)
	require.NoError(t, err)

	nodes := []NodeInfo{
		{ID: 1, CanDrive: false},
		{ID: 2, CanDrive: true},
	}
	plan := Compute(nodes, []*link.Link{connected})
	targets := plan.TargetLists[1]
	require.Len(t, targets, 1)
	require.Equal(t, uint32(2), targets[0].NodeID)
}

func TestRootsCollectsIndegreeZeroFollowers(t *testing.T) {
	src := port.New(0, 1, port.DirectionOutput)
	sink := port.New(0, 2, port.DirectionInput)
	connected, err := link.Connect(1, src, sink, srcFormat(), nil)
	require.NoError(t, err)

	nodes := []NodeInfo{
		{ID: 1, CanDrive: false},
		{ID: 2, CanDrive: true},
	}
	plan := Compute(nodes, []*link.Link{connected})

	require.Equal(t, uint32(0), plan.Required[1])
	require.Equal(t, uint32(1), plan.Required[2])
	require.Equal(t, []uint32{1}, plan.Roots[2])
}

func TestQuantumSizeIsMinOfNonZeroDeclarations(t *testing.T) {
	nodes := []NodeInfo{
		{ID: 1, QuantumSize: 2048},
		{ID: 2, QuantumSize: 512},
		{ID: 3, QuantumSize: 0},
	}
	plan := Compute(nodes, nil)
	require.Equal(t, uint32(512), plan.QuantumSize)
}

func TestFlp2RoundsDownToPowerOfTwo(t *testing.T) {
	require.Equal(t, uint32(1024), flp2(1024))
	require.Equal(t, uint32(512), flp2(1000))
	require.Equal(t, uint32(1), flp2(1))
}

func srcFormat() proto.Pod {
	return proto.NewObjectBuilder(proto.ParamFormat).SetInt("channels", 2).Build()
}

package mediagraph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
	"github.com/ehrlich-b/go-mediagraph/nodes"
)

// buildSrcSinkGraph wires a TestSrc (source, no driver capability) into a
// TestSink (sink, driver=true), matching §8 S1's "A (source) and B (sink,
// driver=true)" shape: the driver sits downstream of its only real
// predecessor, so A is the component's sole root and B's own pending
// counter is the thing that gates its cycle.
func buildSrcSinkGraph(t *testing.T, quantum uint32) (*Graph, uint32, uint32, *nodes.TestSrc, *nodes.TestSink) {
	t.Helper()

	g := NewGraph(GraphParams{SampleRate: 48000, QuantumSize: quantum})

	srcPort := port.New(0, 0, port.DirectionOutput)
	srcImpl := nodes.NewTestSrc(srcPort, 48000, 440)
	srcID, err := g.AddNode(srcImpl, NodeParams{Name: "src"})
	require.NoError(t, err)
	srcPortID, err := g.AddPort(srcID, srcPort)
	require.NoError(t, err)

	sinkPort := port.New(0, 0, port.DirectionInput)
	sinkImpl := nodes.NewTestSink(sinkPort, 48000)
	sinkID, err := g.AddNode(sinkImpl, NodeParams{Name: "sink", CanDrive: true, WantDriver: true})
	require.NoError(t, err)
	sinkPortID, err := g.AddPort(sinkID, sinkPort)
	require.NoError(t, err)

	format := proto.NewObjectBuilder(proto.ParamFormat).
		SetInt("channels", 1).
		SetInt("rate", 48000).
		SetString("format", "F32").
		Build()
	require.NoError(t, g.SetPortFormatOffers(srcID, srcPortID, []proto.Pod{format}))
	require.NoError(t, g.SetPortFormatOffers(sinkID, sinkPortID, []proto.Pod{format}))

	_, err = g.Connect(srcID, srcPortID, sinkID, sinkPortID, 2, int(quantum)*4)
	require.NoError(t, err)

	return g, srcID, sinkID, srcImpl, sinkImpl
}

// TestDriveTwoNodeSinkDrive implements §8 S1: drive a source/driver-sink
// pair for 10 cycles and check that both nodes recorded finish/awake
// timestamps (their relative order is not asserted), the driver's clock
// advance, and that no xrun is recorded on the happy path.
func TestDriveTwoNodeSinkDrive(t *testing.T) {
	const quantum = 256
	g, srcID, sinkID, _, sink := buildSrcSinkGraph(t, quantum)

	require.NoError(t, g.Start())
	defer g.Close()

	srcNode := g.nodes[srcID]
	sinkNode := g.nodes[sinkID]

	deadline := time.Now().Add(2 * time.Second)
	for sink.CyclesConsumed() < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqualf(t, sink.CyclesConsumed(), uint64(10), "sink only consumed %d cycles", sink.CyclesConsumed())

	sinkRec := sinkNode.Mapping().Record()
	srcRec := srcNode.Mapping().Record()

	require.True(t, sinkNode.IsDriver())
	require.False(t, srcNode.IsDriver())

	require.Zero(t, sinkRec.XrunCount(), "expected no xruns on the happy path")

	finishA := srcRec.FinishTime()
	awakeB := sinkRec.AwakeTime()
	require.NotZero(t, finishA)
	require.NotZero(t, awakeB)

	position := sinkRec.Position.Clock.Position
	require.GreaterOrEqual(t, position, uint64(10*quantum))
	require.Zero(t, position%uint64(quantum), "position must advance in whole quantum steps")
}

// TestDriveAwakeTimeMonotonic drives a few more cycles and checks B's
// awake_time strictly increases cycle over cycle (§8 S1's "B.awake_time[k]
// < B.awake_time[k+1]").
func TestDriveAwakeTimeMonotonic(t *testing.T) {
	const quantum = 256
	g, _, sinkID, _, sink := buildSrcSinkGraph(t, quantum)

	require.NoError(t, g.Start())
	defer g.Close()

	sinkNode := g.nodes[sinkID]
	sinkRec := sinkNode.Mapping().Record()

	deadline := time.Now().Add(2 * time.Second)
	for sink.CyclesConsumed() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, sink.CyclesConsumed(), uint64(3))
	first := sinkRec.AwakeTime()

	for sink.CyclesConsumed() < 6 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, sink.CyclesConsumed(), uint64(6))
	second := sinkRec.AwakeTime()

	require.Greater(t, second, first)
}

// TestDriveSourceFramesReachSink checks the source's produced samples
// actually land in the sink's captured PCM, end to end through the real
// ready-queue and buffer exchange rather than through any test shortcut.
func TestDriveSourceFramesReachSink(t *testing.T) {
	const quantum = 256
	g, _, _, src, sink := buildSrcSinkGraph(t, quantum)

	require.NoError(t, g.Start())
	defer g.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sink.CyclesConsumed() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, sink.CyclesConsumed(), uint64(5))
	require.Greater(t, src.FramesEmitted(), uint64(0))
	require.Greater(t, sink.FramesReceived(), uint64(0))
}

// TestFollowerStallRecordsUnderrunsThenRecovers implements §8 S3: the
// source stops producing mid-run, the sink's ready-queue runs dry and its
// underrun count climbs instead of erroring out, and frames resume
// flowing once the source is restarted.
func TestFollowerStallRecordsUnderrunsThenRecovers(t *testing.T) {
	const quantum = 256
	g, _, _, src, sink := buildSrcSinkGraph(t, quantum)

	require.NoError(t, g.Start())
	defer g.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sink.CyclesConsumed() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, sink.CyclesConsumed(), uint64(5))

	require.NoError(t, src.SendCommand(proto.CommandPause))
	baselineUnderruns := sink.Underruns()
	deadline = time.Now().Add(2 * time.Second)
	for sink.Underruns() <= baselineUnderruns && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Greater(t, sink.Underruns(), baselineUnderruns, "stalling the source should accumulate underruns on the sink")

	framesBeforeResume := sink.FramesReceived()
	require.NoError(t, src.SendCommand(proto.CommandStart))
	deadline = time.Now().Add(2 * time.Second)
	for sink.FramesReceived() <= framesBeforeResume && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Greater(t, sink.FramesReceived(), framesBeforeResume, "resuming the source should let frames flow again")
}

// TestRepositionAppliesOnDriversNextCycle implements §8 S4: a node
// requests a reposition via Graph.Reposition, and the driver picks it up
// at the top of its next cycle, jumping its own Position rather than
// drifting there gradually.
func TestRepositionAppliesOnDriversNextCycle(t *testing.T) {
	const quantum = 256
	g, srcID, sinkID, _, sink := buildSrcSinkGraph(t, quantum)

	require.NoError(t, g.Start())
	defer g.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sink.CyclesConsumed() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, sink.CyclesConsumed(), uint64(3))

	sinkRec := g.nodes[sinkID].Mapping().Record()
	segmentsBefore := sinkRec.Position.SegmentCount

	const repositionTo = uint64(9_000_000)
	require.NoError(t, g.Reposition(srcID, proto.IOSegment{Start: repositionTo}))

	deadline = time.Now().Add(2 * time.Second)
	for sinkRec.Position.Clock.Position < repositionTo && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, sinkRec.Position.Clock.Position, repositionTo, "driver must jump to the requested segment")
	require.Less(t, sinkRec.Position.Clock.Position, repositionTo+uint64(10*quantum), "driver should land near the requested start, not drift there")
	require.Greater(t, sinkRec.Position.SegmentCount, segmentsBefore)
	require.Equal(t, repositionTo, sinkRec.Position.Segment.Start)
}

// TestDriverReElectsOnComponentSplit implements §8 S6: disconnecting a
// link that splits one component into two forces a driver re-election on
// the side that loses its old driver, and the newly-elected node's
// NodeRunner must pick up the driver role live rather than staying frozen
// in the follower role it started with.
func TestDriverReElectsOnComponentSplit(t *testing.T) {
	const quantum = 256
	g := NewGraph(GraphParams{SampleRate: 48000, QuantumSize: quantum})

	// Both ends can drive; the lower node id wins the initial election
	// (§4.5's deterministic tie-break), so the source drives and the sink
	// follows -- the inverse of S1's shape, and a valid one.
	srcPort := port.New(0, 0, port.DirectionOutput)
	srcImpl := nodes.NewTestSrc(srcPort, 48000, 440)
	srcID, err := g.AddNode(srcImpl, NodeParams{Name: "src", CanDrive: true})
	require.NoError(t, err)
	srcPortID, err := g.AddPort(srcID, srcPort)
	require.NoError(t, err)

	sinkPort := port.New(0, 0, port.DirectionInput)
	sinkImpl := nodes.NewTestSink(sinkPort, 48000)
	sinkID, err := g.AddNode(sinkImpl, NodeParams{Name: "sink", CanDrive: true, WantDriver: true})
	require.NoError(t, err)
	sinkPortID, err := g.AddPort(sinkID, sinkPort)
	require.NoError(t, err)

	format := proto.NewObjectBuilder(proto.ParamFormat).
		SetInt("channels", 1).
		SetInt("rate", 48000).
		SetString("format", "F32").
		Build()
	require.NoError(t, g.SetPortFormatOffers(srcID, srcPortID, []proto.Pod{format}))
	require.NoError(t, g.SetPortFormatOffers(sinkID, sinkPortID, []proto.Pod{format}))

	linkID, err := g.Connect(srcID, srcPortID, sinkID, sinkPortID, 2, int(quantum)*4)
	require.NoError(t, err)

	require.NoError(t, g.Start())
	defer g.Close()

	deadline := time.Now().Add(2 * time.Second)
	for sinkImpl.CyclesConsumed() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.GreaterOrEqual(t, sinkImpl.CyclesConsumed(), uint64(5))

	require.True(t, g.nodes[srcID].IsDriver(), "lower id wins the tie-break and drives the joint component")
	require.False(t, g.nodes[sinkID].IsDriver())

	sinkRec := g.nodes[sinkID].Mapping().Record()
	require.Zero(t, sinkRec.Position.Clock.Position, "a follower never advances its own clock")

	require.NoError(t, g.Disconnect(linkID))

	deadline = time.Now().Add(2 * time.Second)
	for sinkRec.Position.Clock.Position == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.NotZero(t, sinkRec.Position.Clock.Position, "the sink must start driving its own clock once split off")
	require.True(t, g.nodes[sinkID].IsDriver(), "losing its driver must re-elect the sink as its own component's driver")
	require.True(t, g.nodes[srcID].IsDriver(), "the source keeps driving its now-singleton component")
}

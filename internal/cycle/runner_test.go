package cycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-mediagraph/internal/activation"
	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
	"github.com/ehrlich-b/go-mediagraph/internal/walk"
)

type countingImpl struct {
	processed int
}

func (c *countingImpl) EnumParams(proto.ParamID, uint32, uint32, *proto.Pod) ([]proto.Pod, error) {
	return nil, nil
}
func (c *countingImpl) SetParam(proto.ParamID, uint32, *proto.Pod) (int32, error) { return 0, nil }
func (c *countingImpl) SetIO(proto.IOAreaKind, []byte) error                      { return nil }
func (c *countingImpl) UseBuffers(uint32, []proto.BufferDesc) error               { return nil }
func (c *countingImpl) SendCommand(proto.Command) error                          { return nil }
func (c *countingImpl) Process() (uint32, error) {
	c.processed++
	return uint32(proto.StatusOK), nil
}
func (c *countingImpl) AddListener(func(interfaces.Event)) func() { return func() {} }
func (c *countingImpl) ReuseBuffer(uint32, uint32) error          { return nil }

func TestProcessCycleSignalsTargets(t *testing.T) {
	driverMapping, err := activation.NewLocal()
	require.NoError(t, err)
	defer driverMapping.Close()
	followerMapping, err := activation.NewLocal()
	require.NoError(t, err)
	defer followerMapping.Close()

	followerMapping.Record().State[0].Reset(1)
	followerMapping.Record().SetStatus(proto.StatusNotTriggered)

	impl := &countingImpl{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(ctx, Config{NodeID: 1, Impl: impl, Mapping: driverMapping, IsDriver: true})
	r.SetTargets(0, []walk.Target{{NodeID: 2, Required: 1}}, map[uint32]*activation.Mapping{2: followerMapping})

	require.NoError(t, r.processCycle())
	require.Equal(t, 1, impl.processed)
	require.Equal(t, proto.StatusTriggered, followerMapping.Record().Status())

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, followerMapping.Wait(waitCtx))
}

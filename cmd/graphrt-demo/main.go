package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	mediagraph "github.com/ehrlich-b/go-mediagraph"
	"github.com/ehrlich-b/go-mediagraph/internal/logging"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
	"github.com/ehrlich-b/go-mediagraph/nodes"
)

func main() {
	var (
		freqHz      = flag.Float64("freq", 440, "Tone frequency in Hz generated by the source node")
		sampleRate  = flag.Uint("rate", 48000, "Graph sample rate")
		quantum     = flag.Uint("quantum", 1024, "Graph quantum size in frames")
		bufferCount = flag.Int("buffers", 4, "Number of buffers installed on the src->sink link")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	logger.Info("building graph", "rate", *sampleRate, "quantum", *quantum, "freq", *freqHz)

	g := mediagraph.NewGraph(mediagraph.GraphParams{
		SampleRate:  uint32(*sampleRate),
		QuantumSize: uint32(*quantum),
		Logger:      logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := runDemo(ctx, g, logger, *freqHz, uint32(*sampleRate), *bufferCount); err != nil {
		logger.Error("failed to run demo graph", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Graph running: TestSrc(%.1fHz) -> TestSink\n", *freqHz)
	fmt.Printf("Press Ctrl+C to stop...\n")
	fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			dumpStacks(logger)
		}
	}()

	tickCh := time.NewTicker(2 * time.Second)
	defer tickCh.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal")
			cancel()
			if err := g.Close(); err != nil {
				logger.Error("error closing graph", "error", err)
			} else {
				logger.Info("graph stopped successfully")
			}
			return
		case <-tickCh.C:
			snap := g.Metrics()
			logger.Info("graph metrics", "cycles", snap.CycleCount, "xruns", snap.XrunCount)
		}
	}
}

// runDemo wires a single TestSrc->TestSink pipeline: two nodes, one port
// each, one link. Generalized from the teacher's "create memory backend,
// wrap it in a device, serve it" shape into "create two NodeImpls, add
// them as graph nodes, connect their ports".
func runDemo(_ context.Context, g *mediagraph.Graph, logger *logging.Logger, freqHz float64, sampleRate uint32, bufferCount int) error {
	srcPort := port.New(0, 0, port.DirectionOutput)
	srcImpl := nodes.NewTestSrc(srcPort, sampleRate, freqHz)

	srcID, err := g.AddNode(srcImpl, mediagraph.NodeParams{Name: "test-src", CanDrive: true, WantDriver: true})
	if err != nil {
		return fmt.Errorf("add src node: %w", err)
	}
	srcPortID, err := g.AddPort(srcID, srcPort)
	if err != nil {
		return fmt.Errorf("add src port: %w", err)
	}

	sinkPort := port.New(0, 0, port.DirectionInput)
	sinkImpl := nodes.NewTestSink(sinkPort, int64(sampleRate)*4)

	sinkID, err := g.AddNode(sinkImpl, mediagraph.NodeParams{Name: "test-sink"})
	if err != nil {
		return fmt.Errorf("add sink node: %w", err)
	}
	sinkPortID, err := g.AddPort(sinkID, sinkPort)
	if err != nil {
		return fmt.Errorf("add sink port: %w", err)
	}

	format := proto.NewObjectBuilder(proto.ParamFormat).
		SetInt("channels", 1).
		SetInt("rate", int32(sampleRate)).
		SetString("format", "F32").
		Build()
	if err := g.SetPortFormatOffers(srcID, srcPortID, []proto.Pod{format}); err != nil {
		return fmt.Errorf("set src format offers: %w", err)
	}
	if err := g.SetPortFormatOffers(sinkID, sinkPortID, []proto.Pod{format}); err != nil {
		return fmt.Errorf("set sink format offers: %w", err)
	}

	if _, err := g.Connect(srcID, srcPortID, sinkID, sinkPortID, bufferCount, int(sampleRate)*4); err != nil {
		return fmt.Errorf("connect src->sink: %w", err)
	}

	if err := g.Start(); err != nil {
		return fmt.Errorf("start graph: %w", err)
	}
	logger.Info("graph started", "src_node", srcID, "sink_node", sinkID)
	return nil
}

func dumpStacks(logger *logging.Logger) {
	logger.Info("=== GOROUTINE STACK TRACE DUMP ===")
	buf := make([]byte, 1024*1024)
	n := runtime.Stack(buf, true)
	fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n")
	fmt.Fprintf(os.Stderr, "%s\n", buf[:n])
	fmt.Fprintf(os.Stderr, "=== END STACK DUMP ===\n\n")

	filename := fmt.Sprintf("graphrt-stacks-%d.txt", time.Now().Unix())
	if f, err := os.Create(filename); err == nil {
		fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
		fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
		f.Write(buf[:n])
		fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
		pprof.Lookup("goroutine").WriteTo(f, 2)
		f.Close()
		logger.Info("stack trace written to file", "file", filename)
	}
}

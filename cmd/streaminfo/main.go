// Command streaminfo reports which cmdstream engines a build links in
// and probes the selected engine's limits and format support. It is the
// quickest way to check whether an engine registered (a missing blank
// import is the usual culprit) and whether the wgpu engine can open a
// device on this machine.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/cmdstream"
	_ "github.com/gogpu/cmdstream/engine/noop"
	_ "github.com/gogpu/cmdstream/engine/wgpu"
)

func main() {
	var (
		engine = flag.String("engine", "noop", "engine to probe")
		smoke  = flag.Bool("smoke", false, "record and replay a small command batch")
	)
	flag.Parse()

	fmt.Println("registered engines:")
	for _, name := range cmdstream.Engines() {
		fmt.Printf("  %s\n", name)
	}

	eng, err := cmdstream.New(*engine)
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer eng.Close()

	fmt.Printf("\nengine %s:\n", eng.Name())
	fmt.Printf("  max buffer size: %d bytes\n", eng.MaxBufferSize())
	fmt.Println("  format support:")
	probes := []struct {
		name   string
		format gputypes.TextureFormat
	}{
		{"RGBA8Unorm", gputypes.TextureFormatRGBA8Unorm},
		{"BGRA8Unorm", gputypes.TextureFormatBGRA8Unorm},
		{"R8Unorm", gputypes.TextureFormatR8Unorm},
		{"R32Float", gputypes.TextureFormatR32Float},
		{"RG32Float", gputypes.TextureFormatRG32Float},
		{"RGBA16Float", gputypes.TextureFormatRGBA16Float},
		{"RGBA32Float", gputypes.TextureFormatRGBA32Float},
		{"Depth24PlusStencil8", gputypes.TextureFormatDepth24PlusStencil8},
	}
	for _, p := range probes {
		fmt.Printf("    %-20s %v\n", p.name, eng.SupportsFormat(p.format))
	}

	if *smoke {
		if err := runSmoke(eng); err != nil {
			log.Fatalf("Smoke batch failed: %v", err)
		}
		fmt.Println("\nsmoke batch: ok")
	}
}

// callbackSource is satisfied by the bundled engines, which all hand out
// completion conditions through a CallbackManager.
type callbackSource interface {
	Callbacks() *cmdstream.CallbackManager
}

// runSmoke records one buffer round trip, replays it on a second
// goroutine and waits for the completion fence.
func runSmoke(eng cmdstream.Engine) error {
	cs, ok := eng.(callbackSource)
	if !ok {
		return fmt.Errorf("engine %s exposes no callback manager", eng.Name())
	}

	queue := cmdstream.NewCommandBufferQueue(16<<10, 64<<10, false)
	stream := cmdstream.NewStream(eng, queue.Buffer())

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		cmdstream.Loop(stream, queue)
	}()

	buf := stream.NewBuffer(64, gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst)
	stream.BeginFrame(1, time.Now().UnixNano())
	stream.UpdateBuffer(buf, 0, make([]byte, 64))
	stream.EndFrame(1)
	stream.DestroyBuffer(buf)

	fenceDone := make(chan struct{})
	cond := cs.Callbacks().Get()
	stream.Finish(cond)
	cs.Callbacks().SetCallback(cmdstream.InlineExecutor{}, func() { close(fenceDone) })
	queue.Flush()

	select {
	case <-fenceDone:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("completion fence did not fire")
	}

	queue.RequestExit()
	<-loopDone
	queue.Close()
	return nil
}

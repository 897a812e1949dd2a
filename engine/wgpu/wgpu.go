// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nowgpu

// Package wgpu provides a cmdstream engine backed by gogpu's WebGPU HAL.
//
// The engine owns a hal.Device and hal.Queue, either created standalone
// through the Vulkan backend or shared from an external
// gpucontext.DeviceProvider. Recorded operations are replayed into HAL
// command encoders; EndFrame, ReadPixels and Finish submit the encoder
// and wait on a fence.
//
// Import it for its registration side effect:
//
//	import _ "github.com/gogpu/cmdstream/engine/wgpu"
//
// Builds tagged nowgpu exclude the HAL dependency; the name stays
// registered and cmdstream.New("wgpu") reports the engine as unavailable.
package wgpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/cmdstream"
)

// Name is the identifier the engine registers under.
const Name = "wgpu"

// init registers the wgpu engine on package import.
func init() {
	cmdstream.Register(Name, func() cmdstream.Engine { return New() })
}

// maxVertexSlots bounds the latched vertex buffer bindings, matching the
// WebGPU guaranteed minimum.
const maxVertexSlots = 8

type bufferEntry struct {
	buf  hal.Buffer
	size uint64
}

type textureEntry struct {
	tex    hal.Texture
	view   hal.TextureView
	width  uint32
	height uint32
	format gputypes.TextureFormat
}

type pipelineEntry struct {
	desc    cmdstream.PipelineDesc
	shader  hal.ShaderModule
	layout  hal.PipelineLayout
	render  hal.RenderPipeline
	compute hal.ComputePipeline
}

type vertexBinding struct {
	buf   hal.Buffer
	bound bool
	dirty bool
}

// Engine replays cmdstream operations against the WebGPU HAL. Create one
// directly with New, or through the registry as cmdstream.New("wgpu");
// either way Init (or SetDeviceProvider) must succeed before the first
// batch executes.
type Engine struct {
	mu sync.Mutex

	instance       hal.Instance
	device         hal.Device
	queue          hal.Queue
	limits         gputypes.Limits
	externalDevice bool
	ready          bool

	callbacks *cmdstream.CallbackManager

	nextBuffer   atomic.Uint32
	nextTexture  atomic.Uint32
	nextPipeline atomic.Uint32

	// Everything below is owned by the execution goroutine.
	buffers   map[cmdstream.BufferHandle]bufferEntry
	textures  map[cmdstream.TextureHandle]*textureEntry
	pipelines map[cmdstream.PipelineHandle]*pipelineEntry

	enc  hal.CommandEncoder
	pass hal.RenderPassEncoder

	// Backbuffer for passes targeting DefaultRenderTarget; recreated when
	// the pass extent changes.
	back textureEntry

	boundPipeline   cmdstream.PipelineHandle
	pipelineDirty   bool
	vertex          [maxVertexSlots]vertexBinding
	indexBuf        hal.Buffer
	indexFormat     gputypes.IndexFormat
	indexDirty      bool
	appliedPipeline hal.RenderPipeline

	frame uint64
}

// New creates a wgpu engine. The GPU device is not opened until Init or
// SetDeviceProvider.
func New() *Engine {
	e := &Engine{
		callbacks: cmdstream.NewCallbackManager(),
		buffers:   make(map[cmdstream.BufferHandle]bufferEntry),
		textures:  make(map[cmdstream.TextureHandle]*textureEntry),
		pipelines: make(map[cmdstream.PipelineHandle]*pipelineEntry),
	}
	e.boundPipeline = cmdstream.PipelineHandle(cmdstream.InvalidHandle)
	return e
}

// Name returns the engine identifier.
func (e *Engine) Name() string { return Name }

// Init opens a standalone device through the Vulkan backend. Engines that
// should share an application's device call SetDeviceProvider instead;
// Init is then a no-op.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}
	return e.initStandalone()
}

// initStandalone creates the instance, picks an adapter and opens the
// device. Called with e.mu held.
func (e *Engine) initStandalone() error {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return fmt.Errorf("wgpu engine: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu engine: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return fmt.Errorf("wgpu engine: no GPU adapters found")
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return fmt.Errorf("wgpu engine: open device: %w", err)
	}

	e.instance = instance
	e.device = openDev.Device
	e.queue = openDev.Queue
	e.limits = limits
	e.externalDevice = false
	e.ready = true

	cmdstream.Logger().Info("cmdstream: wgpu engine initialized",
		"adapter", selected.Info.Name)
	return nil
}

// SetDeviceProvider switches the engine to a shared device and queue from
// an external provider, such as a gogpu application context. The provider
// must expose the underlying HAL objects through HalDevice and HalQueue.
// Resources the engine created on a previous device are released first.
func (e *Engine) SetDeviceProvider(provider gpucontext.DeviceProvider) error {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return fmt.Errorf("wgpu engine: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return fmt.Errorf("wgpu engine: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return fmt.Errorf("wgpu engine: provider HalQueue is not hal.Queue")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseResources()
	if !e.externalDevice && e.device != nil {
		e.device.Destroy()
	}
	if e.instance != nil {
		e.instance.Destroy()
		e.instance = nil
	}

	e.device = device
	e.queue = queue
	e.limits = gputypes.DefaultLimits()
	e.externalDevice = true
	e.ready = true

	cmdstream.Logger().Debug("cmdstream: wgpu engine switched to shared device")
	return nil
}

// Close submits nothing further, releases every live resource and, for a
// standalone device, destroys the device and instance. Shared devices are
// left untouched. The execution goroutine must be drained first.
func (e *Engine) Close() {
	e.callbacks.Terminate()
	e.callbacks.Purge()
	e.callbacks.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.discardEncoder()
	e.releaseResources()

	if !e.externalDevice {
		if e.device != nil {
			e.device.Destroy()
			e.device = nil
		}
		if e.instance != nil {
			e.instance.Destroy()
			e.instance = nil
		}
	} else {
		e.device = nil
		e.instance = nil
	}
	e.queue = nil
	e.ready = false
	e.externalDevice = false
}

// releaseResources destroys all live buffers, textures, pipelines and the
// backbuffer. Called with e.mu held.
func (e *Engine) releaseResources() {
	if e.device == nil {
		return
	}
	n := len(e.pipelines) + len(e.textures) + len(e.buffers)
	if n > 0 {
		cmdstream.Logger().Warn("cmdstream: wgpu engine releasing leaked resources",
			"buffers", len(e.buffers), "textures", len(e.textures), "pipelines", len(e.pipelines))
	}
	for h, p := range e.pipelines {
		e.destroyPipelineEntry(p)
		delete(e.pipelines, h)
	}
	for h, t := range e.textures {
		e.destroyTextureEntry(t)
		delete(e.textures, h)
	}
	for h, b := range e.buffers {
		e.device.DestroyBuffer(b.buf)
		delete(e.buffers, h)
	}
	if e.back.tex != nil {
		e.destroyTextureEntry(&e.back)
		e.back = textureEntry{}
	}
}

// Dispatcher returns the standard dispatch table.
func (e *Engine) Dispatcher() cmdstream.Dispatcher {
	return cmdstream.StdDispatcher()
}

// Callbacks returns the engine's callback manager. Pair conditions from
// it with recorded ReadPixels and Finish operations.
func (e *Engine) Callbacks() *cmdstream.CallbackManager {
	return e.callbacks
}

// ---------------------------------------------------------------------
// Submit-phase methods
// ---------------------------------------------------------------------

// AllocateBufferHandle reserves the next buffer handle.
func (e *Engine) AllocateBufferHandle() cmdstream.BufferHandle {
	return cmdstream.BufferHandle(e.nextBuffer.Add(1) - 1)
}

// AllocateTextureHandle reserves the next texture handle.
func (e *Engine) AllocateTextureHandle() cmdstream.TextureHandle {
	return cmdstream.TextureHandle(e.nextTexture.Add(1) - 1)
}

// AllocatePipelineHandle reserves the next pipeline handle.
func (e *Engine) AllocatePipelineHandle() cmdstream.PipelineHandle {
	return cmdstream.PipelineHandle(e.nextPipeline.Add(1) - 1)
}

// MaxBufferSize reports the device's buffer size limit.
func (e *Engine) MaxBufferSize() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return 0
	}
	return e.limits.MaxBufferSize
}

// SupportsFormat reports whether the engine creates textures with the
// given format. The list covers the color and readback formats the HAL
// guarantees across backends.
func (e *Engine) SupportsFormat(format gputypes.TextureFormat) bool {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR8Unorm,
		gputypes.TextureFormatR32Float,
		gputypes.TextureFormatRG32Float,
		gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatRGBA32Float:
		return true
	}
	return false
}

// Purge delivers due callbacks on the calling goroutine.
func (e *Engine) Purge() { e.callbacks.Purge() }

// ExecuteBatch replays one committed range. The encoder spans batches
// until a submit point (EndFrame, ReadPixels, Finish), so nothing is
// bracketed here.
func (e *Engine) ExecuteBatch(fn func()) { fn() }

// DebugCommandBegin logs the command name when tracing is enabled.
func (e *Engine) DebugCommandBegin(name string) {
	cmdstream.Logger().Debug("cmdstream: command", "name", name)
}

// DebugCommandEnd implements cmdstream.Engine.
func (e *Engine) DebugCommandEnd(string) {}

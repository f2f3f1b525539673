// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpu executes the pipeline under test on a real device and reads
// the rendered target back to the host.
package gpu

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan backend

	"github.com/gogpu/shaderprobe"
)

// InstanceCreator creates HAL instances. hal.Backend implementations and
// noop.API satisfy it.
type InstanceCreator interface {
	CreateInstance(desc *hal.InstanceDescriptor) (hal.Instance, error)
}

// Device is an open HAL device and its queue.
type Device struct {
	device   hal.Device
	queue    hal.Queue
	instance hal.Instance
	name     string
	// external devices belong to a provider and are never destroyed here.
	external bool
}

// OpenDevice opens the first discrete or integrated GPU of the Vulkan
// backend, falling back to the first adapter of any type.
func OpenDevice() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not available", shaderprobe.ErrNoAdapter)
	}
	return OpenWith(backend)
}

// OpenWith opens a device from api.
func OpenWith(api InstanceCreator) (*Device, error) {
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, shaderprobe.ErrNoAdapter
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
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}
	shaderprobe.Logger().Debug("gpu: device opened", "adapter", selected.Info.Name)
	return &Device{
		device:   openDev.Device,
		queue:    openDev.Queue,
		instance: instance,
		name:     selected.Info.Name,
	}, nil
}

// DeviceFromProvider shares the device of an external provider. The
// provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func DeviceFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("gpu: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}
	shaderprobe.Logger().Debug("gpu: using shared device")
	return &Device{device: device, queue: queue, name: "shared", external: true}, nil
}

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

// Close releases the device unless it belongs to a provider.
func (d *Device) Close() {
	if d.external {
		d.device = nil
		d.queue = nil
		return
	}
	if d.device != nil {
		d.device.Destroy()
		d.device = nil
	}
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
	}
	d.queue = nil
}

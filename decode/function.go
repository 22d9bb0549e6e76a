// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package decode

import (
	"fmt"

	"github.com/pkg/errors"
)

// StructType identifies the layout of a Struct.
type StructType uint32

// Known structure types.
const (
	// StructMemoryAllocateInfo is {allocationSize Uint, memoryTypeIndex Uint}.
	StructMemoryAllocateInfo StructType = 1
	// StructBufferCreateInfo is {size Uint, usage Uint}.
	StructBufferCreateInfo StructType = 2
	// StructImageCreateInfo is {width Uint, height Uint, bytesPerPixel Uint}.
	StructImageCreateInfo StructType = 3
	// StructMemoryRequirements is {size Uint, alignment Uint, memoryTypeBits Uint}.
	StructMemoryRequirements StructType = 4
	// StructSurfaceCreateInfo is {x Int, y Int, width Uint, height Uint}.
	StructSurfaceCreateInfo StructType = 5
	// StructDedicatedAllocateInfo extends StructMemoryAllocateInfo with
	// {buffer Handle, image Handle}.
	StructDedicatedAllocateInfo StructType = 6
)

// Field indices of the known structure types.
const (
	AllocateInfoSize            = 0
	AllocateInfoMemoryTypeIndex = 1

	BufferInfoSize  = 0
	BufferInfoUsage = 1

	ImageInfoWidth         = 0
	ImageInfoHeight        = 1
	ImageInfoBytesPerPixel = 2

	RequirementsSize           = 0
	RequirementsAlignment      = 1
	RequirementsMemoryTypeBits = 2

	SurfaceInfoX      = 0
	SurfaceInfoY      = 1
	SurfaceInfoWidth  = 2
	SurfaceInfoHeight = 3

	DedicatedInfoBuffer = 0
	DedicatedInfoImage  = 1
)

var structTypeNames = map[StructType]string{
	StructMemoryAllocateInfo:    "MemoryAllocateInfo",
	StructBufferCreateInfo:      "BufferCreateInfo",
	StructImageCreateInfo:       "ImageCreateInfo",
	StructMemoryRequirements:    "MemoryRequirements",
	StructSurfaceCreateInfo:     "SurfaceCreateInfo",
	StructDedicatedAllocateInfo: "DedicatedAllocateInfo",
}

func (t StructType) String() string {
	if name, ok := structTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("StructType(%d)", uint32(t))
}

// FunctionID identifies a captured API function.
type FunctionID uint32

// Known API functions.
const (
	FnCreateInstance FunctionID = 0x1000 + iota
	FnCreateDevice
	FnAllocateMemory
	FnFreeMemory
	FnMapMemory
	FnUnmapMemory
	FnCreateBuffer
	FnDestroyBuffer
	FnCreateImage
	FnDestroyImage
	FnGetBufferMemoryRequirements
	FnGetImageMemoryRequirements
	FnBindBufferMemory
	FnBindImageMemory
	FnCreateSurface
	FnQueueSubmit
	FnQueuePresent
)

func (id FunctionID) String() string {
	if fn := LookupFunction(id); fn != nil {
		return fn.Name
	}
	return fmt.Sprintf("Function(0x%x)", uint32(id))
}

// Param describes one positional parameter of a Function.
type Param struct {
	Name string
	Kind Kind

	// StructType is the required type of the head structure of a KindStruct
	// parameter.
	StructType StructType

	// Optional parameters may also be null.
	Optional bool
}

// Function describes a known API function.
type Function struct {
	ID     FunctionID
	Name   string
	Params []Param
}

func handle(name string) Param { return Param{Name: name, Kind: KindHandle} }
func uintp(name string) Param  { return Param{Name: name, Kind: KindUint} }
func structp(name string, t StructType) Param {
	return Param{Name: name, Kind: KindStruct, StructType: t}
}

// Parameter positions shared by the functions below.
const (
	// ArgDevice is the device parameter of every device-level function.
	ArgDevice = 0

	// ArgCreateInfo is the create-info parameter of creation functions.
	ArgCreateInfo = 1
	// ArgCreated is the output handle parameter of creation functions.
	ArgCreated = 2

	// ArgMemory is the memory handle parameter of FreeMemory, MapMemory and
	// UnmapMemory.
	ArgMemory = 1

	// ArgResource is the buffer or image parameter of destroy, requirements and
	// bind functions.
	ArgResource = 1
	// ArgRequirements is the output parameter of requirements queries.
	ArgRequirements = 2
	// ArgBindMemory is the memory parameter of bind functions.
	ArgBindMemory = 2
	// ArgBindOffset is the offset parameter of bind functions.
	ArgBindOffset = 3
)

var functions = map[FunctionID]*Function{}

func init() {
	for _, fn := range []*Function{
		{FnCreateInstance, "CreateInstance", []Param{
			{Name: "applicationName", Kind: KindString},
			handle("instance"),
		}},
		{FnCreateDevice, "CreateDevice", []Param{
			handle("instance"),
			{Name: "deviceName", Kind: KindString, Optional: true},
			handle("device"),
		}},
		{FnAllocateMemory, "AllocateMemory", []Param{
			handle("device"),
			structp("allocateInfo", StructMemoryAllocateInfo),
			handle("memory"),
		}},
		{FnFreeMemory, "FreeMemory", []Param{
			handle("device"),
			{Name: "memory", Kind: KindHandle, Optional: true},
		}},
		{FnMapMemory, "MapMemory", []Param{
			handle("device"),
			handle("memory"),
			uintp("offset"),
			uintp("size"),
		}},
		{FnUnmapMemory, "UnmapMemory", []Param{
			handle("device"),
			handle("memory"),
		}},
		{FnCreateBuffer, "CreateBuffer", []Param{
			handle("device"),
			structp("createInfo", StructBufferCreateInfo),
			handle("buffer"),
		}},
		{FnDestroyBuffer, "DestroyBuffer", []Param{
			handle("device"),
			{Name: "buffer", Kind: KindHandle, Optional: true},
		}},
		{FnCreateImage, "CreateImage", []Param{
			handle("device"),
			structp("createInfo", StructImageCreateInfo),
			handle("image"),
		}},
		{FnDestroyImage, "DestroyImage", []Param{
			handle("device"),
			{Name: "image", Kind: KindHandle, Optional: true},
		}},
		{FnGetBufferMemoryRequirements, "GetBufferMemoryRequirements", []Param{
			handle("device"),
			handle("buffer"),
			structp("memoryRequirements", StructMemoryRequirements),
		}},
		{FnGetImageMemoryRequirements, "GetImageMemoryRequirements", []Param{
			handle("device"),
			handle("image"),
			structp("memoryRequirements", StructMemoryRequirements),
		}},
		{FnBindBufferMemory, "BindBufferMemory", []Param{
			handle("device"),
			handle("buffer"),
			handle("memory"),
			uintp("memoryOffset"),
		}},
		{FnBindImageMemory, "BindImageMemory", []Param{
			handle("device"),
			handle("image"),
			handle("memory"),
			uintp("memoryOffset"),
		}},
		{FnCreateSurface, "CreateSurface", []Param{
			handle("instance"),
			structp("createInfo", StructSurfaceCreateInfo),
			handle("surface"),
		}},
		{FnQueueSubmit, "QueueSubmit", []Param{
			handle("device"),
			{Name: "resources", Kind: KindArray},
		}},
		{FnQueuePresent, "QueuePresent", []Param{
			handle("device"),
			handle("surface"),
			uintp("imageIndex"),
		}},
	} {
		functions[fn.ID] = fn
	}
}

// LookupFunction returns the Function registered for id, or nil if id is not
// a known function.
func LookupFunction(id FunctionID) *Function { return functions[id] }

// check verifies that args match fn's parameters.
func (fn *Function) check(args []Value) error {
	if len(args) != len(fn.Params) {
		return errors.Errorf("%s takes %d arguments, got %d", fn.Name, len(fn.Params), len(args))
	}
	for i, p := range fn.Params {
		a := args[i]
		if a.Kind == KindNull && p.Optional {
			continue
		}
		if a.Kind != p.Kind {
			return errors.Errorf("%s argument %q: want %s, got %s", fn.Name, p.Name, p.Kind, a.Kind)
		}
		if p.Kind == KindStruct && a.Struct.Type != p.StructType {
			return errors.Errorf("%s argument %q: want %s, got %s", fn.Name, p.Name, p.StructType, a.Struct.Type)
		}
	}
	return nil
}

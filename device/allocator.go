// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package device

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Allocator selects how a Replayer places captured memory on the live device.
type Allocator int

const (
	// AllocatorDefault replays captured allocation sizes and bind offsets
	// unchanged.
	AllocatorDefault Allocator = iota
	// AllocatorRemap replays captured allocations, realigning each bind offset
	// in place to the live device's requirements.
	AllocatorRemap
	// AllocatorRebind gives every bound resource its own allocation, sized for
	// the live device.
	AllocatorRebind
)

var allocatorNames = []string{
	AllocatorDefault: "default",
	AllocatorRemap:   "remap",
	AllocatorRebind:  "rebind",
}

func (a Allocator) String() string {
	if int(a) >= 0 && int(a) < len(allocatorNames) {
		return allocatorNames[a]
	}
	return "unknown"
}

// ParseAllocator resolves an allocator name.
func ParseAllocator(v string) (Allocator, error) {
	for i, name := range allocatorNames {
		if strings.EqualFold(v, name) {
			return Allocator(i), nil
		}
	}
	return AllocatorDefault, errors.Errorf("unknown memory translation mode: %q", v)
}

// AllocatorFlag is a pflag.Value implementation that stores an Allocator.
type AllocatorFlag Allocator

var _ pflag.Value = (*AllocatorFlag)(nil)

func (af *AllocatorFlag) String() string { return Allocator(*af).String() }

// Set implements pflag.Value.
func (af *AllocatorFlag) Set(v string) error {
	a, err := ParseAllocator(v)
	if err != nil {
		return err
	}
	*af = AllocatorFlag(a)
	return nil
}

// Type implements pflag.Value.
func (af *AllocatorFlag) Type() string { return "device.Allocator" }

// Value returns the allocator held by this flag.
func (af AllocatorFlag) Value() Allocator { return Allocator(af) }

// AllocatorFlagValues returns the list of possible values for an
// AllocatorFlag.
func AllocatorFlagValues() string { return strings.Join(allocatorNames, ", ") }

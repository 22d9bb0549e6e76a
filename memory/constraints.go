// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package memory

import (
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DeviceConstraints is the replay device's memory placement policy.
type DeviceConstraints interface {
	// BindAlignment returns the alignment that b's replay offset must satisfy.
	// A result of 0 is treated as 1.
	BindAlignment(b *BindRecord) uint64

	// AllocationSize returns the replay size of allocation a, given the minimum
	// size that holds all of its binds. The result must be at least minSize.
	AllocationSize(a *AllocationRecord, minSize uint64) (uint64, error)
}

// IdentityConstraints keeps each bind's captured alignment and sizes each
// allocation to exactly fit its binds.
type IdentityConstraints struct{}

var _ DeviceConstraints = IdentityConstraints{}

// BindAlignment implements DeviceConstraints.
func (IdentityConstraints) BindAlignment(b *BindRecord) uint64 { return b.Alignment }

// AllocationSize implements DeviceConstraints.
func (IdentityConstraints) AllocationSize(a *AllocationRecord, minSize uint64) (uint64, error) {
	return minSize, nil
}

// ProfileConstraints describes a replay device's memory limits.
//
// It can be loaded from a YAML device profile:
//
//	name: small-gpu
//	min_alignment: 256
//	allocation_granularity: 4096
//	max_allocation_size: 268435456
type ProfileConstraints struct {
	// Name is the device's display name.
	Name string `yaml:"name"`

	// MinAlignment, if >1, is an alignment that every bind must also satisfy.
	MinAlignment uint64 `yaml:"min_alignment"`
	// AllocationGranularity, if >1, is the multiple that allocation sizes are
	// rounded up to.
	AllocationGranularity uint64 `yaml:"allocation_granularity"`
	// MaxAllocationSize, if >0, is the largest allocation the device supports.
	MaxAllocationSize uint64 `yaml:"max_allocation_size"`
}

var _ DeviceConstraints = (*ProfileConstraints)(nil)

// BindAlignment implements DeviceConstraints.
//
// The result satisfies both the bind's captured alignment and MinAlignment.
func (pc *ProfileConstraints) BindAlignment(b *BindRecord) uint64 {
	return lcm(b.Alignment, pc.MinAlignment)
}

// AllocationSize implements DeviceConstraints.
func (pc *ProfileConstraints) AllocationSize(a *AllocationRecord, minSize uint64) (uint64, error) {
	size := alignUp(minSize, pc.AllocationGranularity)
	if pc.MaxAllocationSize > 0 && size > pc.MaxAllocationSize {
		return 0, errors.Errorf("allocation 0x%x needs %d bytes, device %q supports at most %d",
			uint64(a.ID), size, pc.Name, pc.MaxAllocationSize)
	}
	return size, nil
}

// ParseProfile parses a YAML device profile.
func ParseProfile(data []byte) (*ProfileConstraints, error) {
	var pc ProfileConstraints
	if err := yaml.Unmarshal(data, &pc); err != nil {
		return nil, errors.Wrap(err, "parsing device profile")
	}
	return &pc, nil
}

// LoadProfile loads a YAML device profile from path.
func LoadProfile(path string) (*ProfileConstraints, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading device profile")
	}
	pc, err := ParseProfile(data)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %q", path)
	}
	return pc, nil
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// lcm returns the least common multiple of a and b, treating 0 as 1.
func lcm(a, b uint64) uint64 {
	if a <= 1 {
		return maxU64(b, 1)
	}
	if b <= 1 {
		return a
	}
	return a / gcd(a, b) * b
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

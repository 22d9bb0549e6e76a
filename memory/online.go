// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package memory

import (
	"github.com/xooiamd/gfxreconstruct/decode"

	"github.com/pkg/errors"
)

// Placement is where a single bind lands under online translation.
type Placement struct {
	// AllocationSize is the size of the dedicated replay allocation.
	AllocationSize uint64
	// Offset is the bind's offset within the dedicated allocation.
	Offset uint64
}

// OnlineTranslator places binds one at a time, as they are replayed, without
// any lookahead.
//
// Each bound resource receives its own dedicated replay allocation, sized by
// Constraints. Captured offsets are discarded, so resources that were aliased
// at capture time are no longer aliased.
type OnlineTranslator struct {
	// Constraints is the replay device's policy. If nil, IdentityConstraints is
	// used.
	Constraints DeviceConstraints

	placements map[decode.Handle]Placement
}

func (ot *OnlineTranslator) constraints() DeviceConstraints {
	if ot.Constraints != nil {
		return ot.Constraints
	}
	return IdentityConstraints{}
}

// Place computes and records the placement of b.
func (ot *OnlineTranslator) Place(b *BindRecord) (Placement, error) {
	ar := AllocationRecord{ID: b.Allocation}
	size, err := ot.constraints().AllocationSize(&ar, b.Size)
	if err != nil {
		return Placement{}, errors.Wrapf(err, "placing %s 0x%x", b.Kind, uint64(b.Resource))
	}
	if size < b.Size {
		return Placement{}, errors.Errorf("device constraints sized %s 0x%x to %d bytes, below %d",
			b.Kind, uint64(b.Resource), size, b.Size)
	}

	p := Placement{AllocationSize: size}
	if ot.placements == nil {
		ot.placements = make(map[decode.Handle]Placement)
	}
	ot.placements[b.Resource] = p
	onlinePlacements.Inc()
	return p, nil
}

// Placement returns the recorded placement of resource.
func (ot *OnlineTranslator) Placement(resource decode.Handle) (Placement, bool) {
	p, ok := ot.placements[resource]
	return p, ok
}

// Release forgets the placement of resource.
func (ot *OnlineTranslator) Release(resource decode.Handle) { delete(ot.placements, resource) }

package scanning

import (
	"iter"

	"github.com/anstrom/neteye/internal/errors"
)

// PortRange is an inclusive port interval.
type PortRange struct {
	Start uint16
	End   uint16
}

// Validate rejects inverted ranges.
func (r PortRange) Validate() error {
	if r.Start > r.End {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"start port must not exceed end port", "start_port", r.Start)
	}
	return nil
}

// Len returns the number of ports in the range.
func (r PortRange) Len() int {
	if r.Start > r.End {
		return 0
	}
	return int(r.End) - int(r.Start) + 1
}

// All yields every port of the range in ascending order tagged with proto.
// The sequence can be ranged over any number of times.
func (r PortRange) All(proto Protocol) iter.Seq[PortSpec] {
	return func(yield func(PortSpec) bool) {
		if r.Start > r.End {
			return
		}
		// int avoids wrapping past 65535
		for p := int(r.Start); p <= int(r.End); p++ {
			if !yield(PortSpec{Port: uint16(p), Protocol: proto}) {
				return
			}
		}
	}
}

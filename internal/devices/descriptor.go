// Package devices maintains the normalized view of the hub's controllable
// devices: a cached inventory parsed from the hub's live context, keyed by
// stable IDs derived from device names.
package devices

import (
	"crypto/md5" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"encoding/json"
)

// Descriptor is one controllable device from the hub inventory. ID is not
// hub-provided: it is derived from Names when the descriptor enters the
// cache, so a device keeps its ID across refreshes as long as its name is
// unchanged.
type Descriptor struct {
	ID    string         `yaml:"-"`
	Names string         `yaml:"names"`
	Areas string         `yaml:"areas"`
	Extra map[string]any `yaml:",inline"`
}

// DeviceID derives the stable cache ID for a device name.
func DeviceID(names string) string {
	sum := md5.Sum([]byte(names)) //nolint:gosec // content addressing, not security
	return hex.EncodeToString(sum[:])
}

// MarshalJSON flattens the free-form attributes next to the fixed fields,
// matching the shape the inventory was parsed from.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+3)
	for k, v := range d.Extra {
		out[k] = v
	}
	out["id"] = d.ID
	out["names"] = d.Names
	if d.Areas != "" {
		out["areas"] = d.Areas
	}
	return json.Marshal(out)
}

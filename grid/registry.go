package grid

import "sync"

// Registry tracks discovered devices, the current selection, and the last
// device we were bound to (for direct reconnects). Identity is by device ID,
// so repeated discovery passes never duplicate entries.
type Registry struct {
	mu       sync.Mutex
	devices  map[string]DeviceInfo
	order    []string
	selected string
	lastID   string
	last     DeviceInfo
	hasLast  bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]DeviceInfo)}
}

// Upsert adds or updates a device by ID. It reports whether the entry is
// new and whether an existing entry's endpoint or kind changed.
func (r *Registry) Upsert(d DeviceInfo) (created, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.devices[d.ID]
	if !ok {
		r.devices[d.ID] = d
		r.order = append(r.order, d.ID)
		return true, false
	}

	// Attach notifications and size reports carry partial info; zero
	// fields mean "unknown, keep what we have".
	if d.SizeX == 0 && d.SizeY == 0 {
		d.SizeX, d.SizeY = prev.SizeX, prev.SizeY
	}
	if d.Port == 0 {
		d.Port = prev.Port
	}
	if d.Kind == "" {
		d.Kind = prev.Kind
	}
	if d.Host == "" {
		d.Host = prev.Host
	}
	changed = prev.Host != d.Host || prev.Port != d.Port || prev.Kind != d.Kind
	r.devices[d.ID] = d
	return false, changed
}

// SetSize records the declared grid dimensions for a device
func (r *Registry) SetSize(id string, x, y int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.SizeX, d.SizeY = x, y
		r.devices[id] = d
	}
}

// Remove deletes a device by ID, returning the removed entry
func (r *Registry) Remove(id string) (DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return DeviceInfo{}, false
	}
	delete(r.devices, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.selected == id {
		r.selected = ""
	}
	return d, true
}

// Get returns a device by ID
func (r *Registry) Get(id string) (DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	return d, ok
}

// List returns devices in discovery order
func (r *Registry) List() []DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeviceInfo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

// First returns the earliest-discovered device
func (r *Registry) First() (DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return DeviceInfo{}, false
	}
	return r.devices[r.order[0]], true
}

// Select marks a device as the current selection
func (r *Registry) Select(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "" {
		r.selected = ""
		return true
	}
	if _, ok := r.devices[id]; !ok {
		return false
	}
	r.selected = id
	return true
}

// Selected returns the currently selected device
func (r *Registry) Selected() (DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selected == "" {
		return DeviceInfo{}, false
	}
	d, ok := r.devices[r.selected]
	return d, ok
}

// SelectedID returns the selected device ID, or ""
func (r *Registry) SelectedID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// SetLastKnown records the device we most recently bound, kept across
// disconnects for the direct-reconnect path.
func (r *Registry) SetLastKnown(d DeviceInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID = d.ID
	r.last = d
	r.hasLast = true
}

// LastKnown returns the most recently bound device, if any
func (r *Registry) LastKnown() (DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.hasLast
}

// Len returns the number of known devices
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

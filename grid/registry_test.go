package grid

import "testing"

func TestUpsert_IdempotentByID(t *testing.T) {
	r := NewRegistry()

	created, changed := r.Upsert(DeviceInfo{ID: "m0000123", Kind: "monome 128", Host: "127.0.0.1", Port: 13245})
	if !created || changed {
		t.Fatalf("first upsert: created=%v changed=%v", created, changed)
	}

	created, changed = r.Upsert(DeviceInfo{ID: "m0000123", Kind: "monome 128", Host: "127.0.0.1", Port: 13245})
	if created || changed {
		t.Fatalf("identical upsert: created=%v changed=%v", created, changed)
	}
	if r.Len() != 1 {
		t.Fatalf("repeated discovery must not duplicate, got %d entries", r.Len())
	}
}

func TestUpsert_DetectsEndpointChange(t *testing.T) {
	r := NewRegistry()
	r.Upsert(DeviceInfo{ID: "m0000123", Kind: "monome 128", Host: "127.0.0.1", Port: 13245})

	_, changed := r.Upsert(DeviceInfo{ID: "m0000123", Kind: "monome 128", Host: "127.0.0.1", Port: 13300})
	if !changed {
		t.Fatalf("port change not detected")
	}
	d, _ := r.Get("m0000123")
	if d.Port != 13300 {
		t.Fatalf("expected port 13300, got %d", d.Port)
	}
}

func TestUpsert_PartialUpdatePreservesKnownFields(t *testing.T) {
	r := NewRegistry()
	r.Upsert(DeviceInfo{ID: "m128", Kind: "monome 128", Host: "127.0.0.1", Port: 13245, SizeX: 16, SizeY: 8})

	// An attach notification only carries the ID and host.
	_, changed := r.Upsert(DeviceInfo{ID: "m128", Host: "127.0.0.1"})
	if changed {
		t.Fatalf("partial upsert must not report a change")
	}
	d, _ := r.Get("m128")
	if d.Port != 13245 || d.Kind != "monome 128" || d.SizeX != 16 || d.SizeY != 8 {
		t.Fatalf("partial upsert clobbered known fields: %+v", d)
	}
}

func TestRemove_ClearsSelection(t *testing.T) {
	r := NewRegistry()
	r.Upsert(DeviceInfo{ID: "a", Port: 1})
	r.Upsert(DeviceInfo{ID: "b", Port: 2})
	r.Select("a")

	d, ok := r.Remove("a")
	if !ok || d.Port != 1 {
		t.Fatalf("remove returned %+v, %v", d, ok)
	}
	if r.SelectedID() != "" {
		t.Fatalf("removing the selected device must clear the selection")
	}
	if _, ok := r.Remove("a"); ok {
		t.Fatalf("double remove should report absence")
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 device left, got %d", r.Len())
	}
}

func TestList_DiscoveryOrder(t *testing.T) {
	r := NewRegistry()
	r.Upsert(DeviceInfo{ID: "c"})
	r.Upsert(DeviceInfo{ID: "a"})
	r.Upsert(DeviceInfo{ID: "b"})
	r.Upsert(DeviceInfo{ID: "a", Port: 9}) // update must not reorder

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(list))
	}
	for i, want := range []string{"c", "a", "b"} {
		if list[i].ID != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, list[i].ID)
		}
	}
	if first, _ := r.First(); first.ID != "c" {
		t.Fatalf("First should return the earliest discovery, got %q", first.ID)
	}
}

func TestSelect_UnknownIDRejected(t *testing.T) {
	r := NewRegistry()
	r.Upsert(DeviceInfo{ID: "a"})

	if r.Select("nope") {
		t.Fatalf("selecting an unknown device should fail")
	}
	if !r.Select("a") {
		t.Fatalf("selecting a known device should succeed")
	}
	if !r.Select("") {
		t.Fatalf("clearing the selection should succeed")
	}
	if r.SelectedID() != "" {
		t.Fatalf("selection not cleared")
	}
}

func TestLastKnown_SurvivesRemove(t *testing.T) {
	r := NewRegistry()
	d := DeviceInfo{ID: "m64", Host: "127.0.0.1", Port: 14000}
	r.Upsert(d)
	r.SetLastKnown(d)
	r.Remove("m64")

	last, ok := r.LastKnown()
	if !ok || last.ID != "m64" || last.Port != 14000 {
		t.Fatalf("last-known device must survive removal, got %+v, %v", last, ok)
	}
}

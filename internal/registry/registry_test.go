package registry

import "testing"

func TestCreateAndLookup(t *testing.T) {
	reg := New()
	res := reg.Create(10, "wl_surface", 1, "payload", nil, nil)
	if res.Handle != 10 {
		t.Fatalf("Handle = %d, want 10", res.Handle)
	}
	got := reg.Lookup(10)
	if got != res {
		t.Fatalf("Lookup(10) = %v, want %v", got, res)
	}
}

func TestResourceMonotonicity(t *testing.T) {
	reg := New()
	before := reg.Len()
	reg.Create(1, "wl_surface", 1, nil, nil, nil)
	if err := reg.Destroy(1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	after := reg.Len()
	if after != before {
		t.Errorf("Len() after create+destroy = %d, want %d", after, before)
	}
	if reg.Lookup(1) != nil {
		t.Errorf("Lookup(1) after destroy = non-nil, want nil")
	}
}

func TestDestroyUnknownHandleIsError(t *testing.T) {
	reg := New()
	if err := reg.Destroy(999); err == nil {
		t.Errorf("Destroy of unknown handle: got nil error, want non-nil")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	reg := New()
	calls := 0
	res := reg.Create(5, "wl_callback", 1, nil, nil, func() { calls++ })
	res.Destroy()
	res.Destroy()
	if calls != 1 {
		t.Errorf("onDestroy called %d times, want 1", calls)
	}
}

func TestGetTyped(t *testing.T) {
	reg := New()
	type payload struct{ n int }
	reg.Create(1, "wl_buffer", 1, &payload{n: 42}, nil, nil)

	got, ok := GetTyped[*payload](reg, 1)
	if !ok || got.n != 42 {
		t.Errorf("GetTyped = %v, %v, want {42}, true", got, ok)
	}

	_, ok = GetTyped[*payload](reg, 2)
	if ok {
		t.Errorf("GetTyped on unknown handle: ok = true, want false")
	}

	reg.Create(3, "wl_seat", 1, "not a payload", nil, nil)
	_, ok = GetTyped[*payload](reg, 3)
	if ok {
		t.Errorf("GetTyped with type mismatch: ok = true, want false")
	}
}

func TestResourceValid(t *testing.T) {
	reg := New()
	res := reg.Create(1, "wl_surface", 1, nil, nil, nil)
	if !res.Valid() {
		t.Errorf("Valid() before destroy = false, want true")
	}
	res.Destroy()
	if res.Valid() {
		t.Errorf("Valid() after destroy = true, want false")
	}
	var nilRes *Resource
	if nilRes.Valid() {
		t.Errorf("Valid() on nil resource = true, want false")
	}
}

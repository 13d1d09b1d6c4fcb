package timers

import "testing"

type fakeCanceler struct {
	stopped bool
}

func (f *fakeCanceler) Stop() bool {
	f.stopped = true
	return true
}

func TestSet_ReplacesAndStopsPrevious(t *testing.T) {
	r := New()
	key := Key{ProjectName: "p", InstanceKey: "claude"}
	first := &fakeCanceler{}
	second := &fakeCanceler{}

	r.Set(key, Thinking, first)
	r.Set(key, Thinking, second)

	if !first.stopped {
		t.Fatal("expected first timer to be stopped when replaced")
	}
	if !r.Has(key, Thinking) {
		t.Fatal("expected registry to hold the replacement")
	}
}

func TestClear_StopsAndRemoves(t *testing.T) {
	r := New()
	key := Key{ProjectName: "p", InstanceKey: "claude"}
	c := &fakeCanceler{}
	r.Set(key, Lifecycle, c)

	r.Clear(key, Lifecycle)

	if !c.stopped {
		t.Fatal("expected timer to be stopped")
	}
	if r.Has(key, Lifecycle) {
		t.Fatal("expected timer to be removed")
	}
}

func TestClearAll_StopsEveryNamedTimerForKey(t *testing.T) {
	r := New()
	key := Key{ProjectName: "p", InstanceKey: "claude"}
	think := &fakeCanceler{}
	life := &fakeCanceler{}
	fall := &fakeCanceler{}
	r.Set(key, Thinking, think)
	r.Set(key, Lifecycle, life)
	r.Set(key, Fallback, fall)

	r.ClearAll(key)

	for name, c := range map[string]*fakeCanceler{Thinking: think, Lifecycle: life, Fallback: fall} {
		if !c.stopped {
			t.Fatalf("expected %s timer to be stopped", name)
		}
	}
	if r.Has(key, Thinking) || r.Has(key, Lifecycle) || r.Has(key, Fallback) {
		t.Fatal("expected all timers removed")
	}
}

func TestClearAll_DoesNotAffectOtherKeys(t *testing.T) {
	r := New()
	keyA := Key{ProjectName: "p", InstanceKey: "a"}
	keyB := Key{ProjectName: "p", InstanceKey: "b"}
	cA := &fakeCanceler{}
	cB := &fakeCanceler{}
	r.Set(keyA, Thinking, cA)
	r.Set(keyB, Thinking, cB)

	r.ClearAll(keyA)

	if cB.stopped {
		t.Fatal("expected other key's timer to survive")
	}
	if !r.Has(keyB, Thinking) {
		t.Fatal("expected other key's timer to remain registered")
	}
}

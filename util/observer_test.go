package util_test

import (
	"testing"

	"github.com/mirrorwish/hyperbit/util"
)

func TestObserversOrder(t *testing.T) {
	var obs util.Observers[int]
	got := []int{}

	obs.Subscribe(func(v int) { got = append(got, v) })
	obs.Subscribe(func(v int) { got = append(got, v*10) })

	obs.Notify(2)

	if len(got) != 2 || got[0] != 2 || got[1] != 20 {
		t.Fatal("unexpected notifications", got)
	}
}

func TestObserversUnsubscribe(t *testing.T) {
	var obs util.Observers[string]
	calls := 0

	sub := obs.Subscribe(func(string) { calls++ })
	obs.Notify("a")
	sub.Unsubscribe()
	sub.Unsubscribe()
	obs.Notify("b")

	if calls != 1 {
		t.Fatal("expected one call, got", calls)
	}

	if obs.Len() != 0 {
		t.Fatal("subscriber not removed")
	}
}

func TestObserversSelfUnsubscribe(t *testing.T) {
	var obs util.Observers[int]
	var sub *util.Subscription
	calls := 0

	sub = obs.Subscribe(func(int) {
		calls++
		sub.Unsubscribe()
	})

	obs.Notify(1)
	obs.Notify(2)

	if calls != 1 {
		t.Fatal("expected one call, got", calls)
	}
}

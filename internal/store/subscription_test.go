package store

import (
	"testing"
)

func TestSubscriptionDeliverDropsOldest(t *testing.T) {
	sub := NewSubscription("users/alpha/points", 1, nil)

	v1, _ := NewValue(1)
	v2, _ := NewValue(2)
	sub.Deliver(v1)
	sub.Deliver(v2)

	got := <-sub.Updates()
	if got.Int() != 2 {
		t.Fatalf("expected latest value 2, got %d", got.Int())
	}
	select {
	case v, ok := <-sub.Updates():
		if ok {
			t.Fatalf("unexpected extra delivery %s", v.Raw())
		}
	default:
	}
}

func TestSubscriptionCancelIsIdempotent(t *testing.T) {
	stops := 0
	sub := NewSubscription("users", 0, func() { stops++ })

	sub.Cancel()
	sub.Cancel()
	if stops != 1 {
		t.Fatalf("stop must run once, ran %d times", stops)
	}
	if _, ok := <-sub.Updates(); ok {
		t.Fatalf("channel should be closed after cancel")
	}
}

func TestDeliverAfterCancelIsNoOp(t *testing.T) {
	sub := NewSubscription("users/alpha/points", 1, nil)
	sub.Cancel()

	v, _ := NewValue(1)
	sub.Deliver(v)
	sub.Deliver(v)

	if _, ok := <-sub.Updates(); ok {
		t.Fatalf("cancelled subscription must deliver nothing")
	}
}

func TestCancelRacingDeliver(t *testing.T) {
	for i := 0; i < 1000; i++ {
		sub := NewSubscription("users/alpha", 1, nil)
		v, _ := NewValue(i)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 20; j++ {
				sub.Deliver(v)
			}
		}()
		sub.Cancel()
		<-done
	}
}

func TestTrackReplacesSubscriptionOnSamePath(t *testing.T) {
	set := NewSubscriptionSet()
	first := NewSubscription("users/alpha/progress", 0, nil)
	second := NewSubscription("users/alpha/progress", 0, nil)

	set.Track(first)
	set.Track(second)

	if _, ok := <-first.Updates(); ok {
		t.Fatalf("first subscription should be cancelled on replacement")
	}
	v, _ := NewValue(true)
	second.Deliver(v)
	if got := <-second.Updates(); !got.Bool() {
		t.Fatalf("second subscription should stay live")
	}

	set.CancelAll()
	if _, ok := <-second.Updates(); ok {
		t.Fatalf("cancel-all should close remaining subscriptions")
	}
}

func TestRelated(t *testing.T) {
	cases := []struct {
		sub, wrote string
		want       bool
	}{
		{"users/alpha", "users/alpha", true},
		{"users/alpha", "users/alpha/points", true},
		{"users/alpha/points", "users/alpha", true},
		{"users", "users/alpha/progress/q1", true},
		{"users/alpha", "users/alphabet", false},
		{"users/alpha/points", "users/bravo/points", false},
	}
	for _, tc := range cases {
		if got := Related(tc.sub, tc.wrote); got != tc.want {
			t.Errorf("Related(%q, %q) = %v, want %v", tc.sub, tc.wrote, got, tc.want)
		}
	}
}

func TestAncestorsNearestFirst(t *testing.T) {
	got := Ancestors("users/alpha/progress/q1")
	want := []string{"users/alpha/progress/q1", "users/alpha/progress", "users/alpha", "users"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestValueAbsence(t *testing.T) {
	var absent Value
	if absent.Exists() {
		t.Fatalf("zero value should be absent")
	}
	if absent.Int() != 0 || absent.Bool() {
		t.Fatalf("absent value should decode to zero values")
	}

	null := RawValue([]byte("null"))
	if null.Exists() {
		t.Fatalf("JSON null should count as absent")
	}

	var n int
	if err := absent.Decode(&n); err != nil {
		t.Fatalf("decoding an absent value should be a no-op, got %v", err)
	}
}

package registry

import (
	"fmt"
	"sync"
	"testing"
)

type member struct{ name string }

func TestRegisterGet(t *testing.T) {
	r := New()
	m := &member{"Sample.Account::Deposit"}
	a, b := &member{"A"}, &member{"B"}

	if got := r.Get(m); got != nil {
		t.Fatalf("Get on empty registry = %v", got)
	}
	r.Register(m, a)
	r.Register(m, b)

	got := r.Get(m)
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("Get = %v, want [A B]", got)
	}
	got[0] = nil
	if r.Get(m)[0] != a {
		t.Error("Get must return a copy")
	}
	if r.Len(m) != 2 {
		t.Errorf("Len = %d, want 2", r.Len(m))
	}
}

func TestGetReturnsSameInstances(t *testing.T) {
	r := New()
	m := &member{"M"}
	ext := &member{"ext"}
	r.Register(m, ext)
	for i := 0; i < 10; i++ {
		if got := r.Get(m); len(got) != 1 || got[0] != ext {
			t.Fatalf("query %d returned %v", i, got)
		}
	}
}

func TestMembersOrder(t *testing.T) {
	r := New()
	m1, m2 := &member{"1"}, &member{"2"}
	r.Register(m2, "x")
	r.Register(m1, "y")
	r.Register(m2, "z")

	members := r.Members()
	if len(members) != 2 || members[0] != m2 || members[1] != m1 {
		t.Errorf("Members = %v", members)
	}
}

func TestConcurrentRegistration(t *testing.T) {
	r := New()
	const types, perType = 16, 50
	shared := &member{"shared"}

	var wg sync.WaitGroup
	for i := 0; i < types; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			own := &member{fmt.Sprint(i)}
			for j := 0; j < perType; j++ {
				r.Register(own, j)
				r.Register(shared, j)
				_ = r.Get(shared)
			}
		}(i)
	}
	wg.Wait()

	if n := r.Len(shared); n != types*perType {
		t.Errorf("shared entry has %d registrations, want %d", n, types*perType)
	}
	if n := len(r.Members()); n != types+1 {
		t.Errorf("Members = %d, want %d", n, types+1)
	}
}

package emit

import (
	"sync"
	"testing"

	"github.com/wippyai/weaver/il"
)

func TestNamerCounters(t *testing.T) {
	owner := &il.TypeDef{Name: "Calc"}
	n := NewNamer()

	tests := []struct {
		member, annotation, base string
		want                     string
	}{
		{"Add", "Log", "Add$Log", "Add$Log$0"},
		{"Add", "Log", "Add$Log", "Add$Log$1"},
		{"Add", "Trace", "Add$Trace", "Add$Trace$0"},
		{"Sub", "Log", "Sub$Log", "Sub$Log$0"},
	}
	for _, tt := range tests {
		if got := n.Next(owner, tt.member, tt.annotation, tt.base); got != tt.want {
			t.Errorf("Next(%s, %s, %s) = %s, want %s", tt.member, tt.annotation, tt.base, got, tt.want)
		}
	}

	other := &il.TypeDef{Name: "Other"}
	if got := n.Next(other, "Add", "Log", "Add$Log"); got != "Add$Log$0" {
		t.Errorf("counters must be per owner, got %s", got)
	}
}

func TestNamerSkipsExistingMembers(t *testing.T) {
	owner := &il.TypeDef{Name: "Calc"}
	owner.AddMethod(&il.MethodDef{Name: "M$A$0"})
	owner.AddField(&il.FieldDef{Name: "M$A$1"})
	owner.AddNestedType(&il.TypeDef{Name: "M$A$2`1"})

	if got := NewNamer().Next(owner, "M", "A", "M$A"); got != "M$A$3" {
		t.Errorf("Next() = %s, want M$A$3", got)
	}
}

func TestNamerConcurrent(t *testing.T) {
	owner := &il.TypeDef{Name: "Calc"}
	n := NewNamer()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := n.Next(owner, "M", "A", "M$A")
			mu.Lock()
			seen[name] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 32 {
		t.Errorf("issued %d distinct names, want 32", len(seen))
	}
}

func TestShortName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Sample.Logged", "Logged"},
		{"Sample.Outer/Inner", "Inner"},
		{"Sample.Scoped`1", "Scoped"},
		{"Plain", "Plain"},
	}
	for _, tt := range tests {
		if got := ShortName(il.Named(tt.in)); got != tt.want {
			t.Errorf("ShortName(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestMethodKey(t *testing.T) {
	owner := &il.TypeDef{Name: "Calc"}
	single := &il.MethodDef{Name: "Add", Params: []*il.Param{{Type: il.Int()}}}
	over1 := &il.MethodDef{Name: "Scale", Params: []*il.Param{{Type: il.Int()}}}
	over2 := &il.MethodDef{Name: "Scale", Params: []*il.Param{{Type: il.Double()}}}
	for _, md := range []*il.MethodDef{single, over1, over2} {
		owner.AddMethod(md)
	}
	if got := MethodKey(single); got != "Add" {
		t.Errorf("MethodKey(single) = %s", got)
	}
	if got := MethodKey(over2); got != "Scale(double)" {
		t.Errorf("MethodKey(overload) = %s", got)
	}
}

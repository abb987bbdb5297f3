package textsource

import "testing"

func TestNew_RequiresStatements(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Error("New(nil) accepted an empty list")
	}
}

func TestNext_Rotates(t *testing.T) {
	t.Parallel()

	l, err := New([]string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{"a", "b", "c", "a", "b"}
	for i, w := range want {
		if got := l.Next(); got != w {
			t.Errorf("Next() #%d = %q, want %q", i, got, w)
		}
	}
}

func TestNext_RandomOrder(t *testing.T) {
	t.Parallel()

	picks := []int{2, 0, 2}
	i := 0
	l, err := New([]string{"a", "b", "c"}, WithRandomOrder(), WithRand(func(n int) int {
		if n != 3 {
			t.Errorf("intn called with %d, want 3", n)
		}
		p := picks[i%len(picks)]
		i++
		return p
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, w := range []string{"c", "a", "c"} {
		if got := l.Next(); got != w {
			t.Errorf("Next() = %q, want %q", got, w)
		}
	}
}

func TestCanned_HasStatements(t *testing.T) {
	t.Parallel()

	l := Canned()
	if l.Next() == "" {
		t.Error("canned source returned an empty statement")
	}
}

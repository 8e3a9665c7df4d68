package graph

import (
	"encoding/json"
	"reflect"
	"testing"
)

func users(logins ...string) []User {
	out := make([]User, len(logins))
	for i, login := range logins {
		out[i] = User{Login: login, AvatarURL: "https://avatars.example/" + login}
	}
	return out
}

func TestDifference(t *testing.T) {
	tests := []struct {
		name    string
		source  []User
		exclude []User
		want    []string
	}{
		{
			name:    "basic difference",
			source:  users("A", "B", "C"),
			exclude: users("B", "C", "D"),
			want:    []string{"A"},
		},
		{
			name:    "case-insensitive logins",
			source:  users("Foo", "bar"),
			exclude: users("foo"),
			want:    []string{"bar"},
		},
		{
			name:    "preserves source order",
			source:  users("zed", "alice", "mike", "bob"),
			exclude: users("mike"),
			want:    []string{"zed", "alice", "bob"},
		},
		{
			name:    "empty exclude keeps everything",
			source:  users("a", "b"),
			exclude: nil,
			want:    []string{"a", "b"},
		},
		{
			name:    "empty source",
			source:  nil,
			exclude: users("a"),
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Logins(Difference(tt.source, tt.exclude))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Difference() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDifference_DoesNotMutateInputs(t *testing.T) {
	source := users("a", "b", "c")
	exclude := users("b")
	_ = Difference(source, exclude)

	if got := Logins(source); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("source mutated: %v", got)
	}
}

func TestReconcile(t *testing.T) {
	result := Reconcile(users("A", "B", "C"), users("B", "C", "D"))

	if got := Logins(result.NotFollowingBack); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("NotFollowingBack = %v, want [A]", got)
	}
	if got := Logins(result.NotFollowedBack); !reflect.DeepEqual(got, []string{"D"}) {
		t.Errorf("NotFollowedBack = %v, want [D]", got)
	}
}

func TestReconcile_SetsAreDisjoint(t *testing.T) {
	following := users("a", "b", "c", "Shared", "x")
	followers := users("shared", "y", "b", "z")

	result := Reconcile(following, followers)

	seen := make(map[string]bool)
	for _, u := range result.NotFollowingBack {
		seen[u.Key()] = true
	}
	for _, u := range result.NotFollowedBack {
		if seen[u.Key()] {
			t.Errorf("login %q present in both asymmetric sets", u.Login)
		}
	}
}

func TestReconcile_CaseInsensitiveMutual(t *testing.T) {
	result := Reconcile(users("Foo"), users("foo"))

	if len(result.NotFollowingBack) != 0 {
		t.Errorf("NotFollowingBack = %v, want empty", Logins(result.NotFollowingBack))
	}
	if len(result.NotFollowedBack) != 0 {
		t.Errorf("NotFollowedBack = %v, want empty", Logins(result.NotFollowedBack))
	}
}

func TestNormalizeLogin(t *testing.T) {
	if got := NormalizeLogin("  OctoCat "); got != "octocat" {
		t.Errorf("NormalizeLogin() = %q, want %q", got, "octocat")
	}
}

func TestResult_JSONKeys(t *testing.T) {
	data, err := json.Marshal(Reconcile(users("a"), users("b")))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, key := range []string{"notFollowingBack", "notFollowedBack"} {
		if _, ok := got[key]; !ok {
			t.Errorf("key %q missing in %s", key, data)
		}
	}
	if len(got) != 2 {
		t.Errorf("got %d keys, want 2: %s", len(got), data)
	}
}

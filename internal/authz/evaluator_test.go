package authz

import "testing"

func TestIsUserAuthorized(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		id      string
		isGroup bool
		users   []string
		groups  []string
		want    bool
	}{
		{name: "wildcard allows anyone", id: "anything@c.us", users: []string{"*"}, want: true},
		{name: "empty list denies", id: "5551234567", users: []string{}, want: false},
		{name: "nil list denies", id: "5551234567", want: false},
		{name: "exact match", id: "5551234567", users: []string{"5551234567"}, want: true},
		{name: "suffix stripped from id", id: "5551234567@c.us", users: []string{"5551234567"}, want: true},
		{name: "suffix stripped from entry", id: "5551234567", users: []string{"5551234567@c.us"}, want: true},
		{name: "mismatch denied", id: "5559999999", users: []string{"5551234567"}, want: false},
		{name: "group id delegates", id: "g1@g.us", users: []string{"5551234567"}, groups: []string{"g1@g.us"}, want: true},
		{name: "group id delegates and denies", id: "g1@g.us", users: []string{"5551234567"}, groups: []string{"g2@g.us"}, want: false},
		{name: "group flag without suffix delegates", id: "g1", isGroup: true, users: []string{"g1"}, groups: []string{"g1"}, want: true},
		{name: "group flag keeps users list out", id: "g1", isGroup: true, users: []string{"g1"}, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := IsUserAuthorized(tc.id, tc.isGroup, tc.users, tc.groups); got != tc.want {
				t.Fatalf("IsUserAuthorized(%q) = %v, want %v", tc.id, got, tc.want)
			}
		})
	}
}

func TestIsGroupAuthorized(t *testing.T) {
	t.Parallel()

	if !IsGroupAuthorized("g1@g.us", []string{"*"}) {
		t.Fatalf("wildcard group entry should allow any group")
	}
	if IsGroupAuthorized("g1@g.us", nil) {
		t.Fatalf("absent group list should deny")
	}
	if !IsGroupAuthorized("g1@g.us", []string{"g1@g.us"}) {
		t.Fatalf("exact group entry should allow")
	}
	if IsGroupAuthorized("g1@g.us", []string{"g2@g.us"}) {
		t.Fatalf("non-member group should be denied")
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	if got := Normalize(" 5551234567@c.us "); got != "5551234567" {
		t.Fatalf("Normalize() = %q", got)
	}
	if got := Normalize("5551234567"); got != "5551234567" {
		t.Fatalf("Normalize() = %q", got)
	}
}

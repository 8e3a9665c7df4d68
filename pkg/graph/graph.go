// Package graph holds the follow-graph value types and the set reconciliation
// that derives asymmetric relationships from two collected lists.
package graph

import "strings"

// User is one GitHub account as listed by the followers/following endpoints.
type User struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Key returns the normalized comparison key of the user's login.
func (u User) Key() string {
	return NormalizeLogin(u.Login)
}

// NormalizeLogin returns the case-insensitive comparison key for a login.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// Result holds both asymmetric sets of one reconciliation.
type Result struct {
	// NotFollowingBack lists accounts the user follows that do not follow back.
	NotFollowingBack []User `json:"notFollowingBack"`

	// NotFollowedBack lists followers the user does not follow.
	NotFollowedBack []User `json:"notFollowedBack"`
}

// Difference returns the users of source whose login is absent from exclude,
// compared case-insensitively. The relative order of source is preserved.
func Difference(source, exclude []User) []User {
	lookup := make(map[string]struct{}, len(exclude))
	for _, u := range exclude {
		lookup[u.Key()] = struct{}{}
	}

	out := make([]User, 0, len(source))
	for _, u := range source {
		if _, ok := lookup[u.Key()]; ok {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Reconcile computes both asymmetric sets from one following and one followers collection.
func Reconcile(following, followers []User) Result {
	return Result{
		NotFollowingBack: Difference(following, followers),
		NotFollowedBack:  Difference(followers, following),
	}
}

// Logins returns the logins of users in order.
func Logins(users []User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Login
	}
	return out
}

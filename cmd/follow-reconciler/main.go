// Command follow-reconciler compares a GitHub user's following and followers
// lists and follows or unfollows the asymmetric relationships, from the
// terminal or through an HTTP API.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

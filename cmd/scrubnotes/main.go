// Command scrubnotes runs the operating-room preference card server and its
// maintenance tools.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

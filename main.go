// The main package for the canvas-sync executable.
package main

import "github.com/canvaslabs/canvas-sync/cmd"

func main() {
	cmd.Execute()
}

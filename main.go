// The main package for the proxyfetch executable.
package main

import "github.com/JakeFAU/proxyfetch/cmd"

func main() {
	cmd.Execute()
}

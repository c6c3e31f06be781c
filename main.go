// The main package for the crawler executable.
package main

import (
	"github.com/sips-and-steals/crawler/cmd"
)

func main() {
	cmd.Execute()
}

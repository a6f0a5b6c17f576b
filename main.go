package main

import "github.com/urlredirector/urlredirector/cmd"

func main() {
	cmd.Execute()
}

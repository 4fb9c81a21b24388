package main

import "github.com/dsengine/ds/cmd"

func main() {
	cmd.Execute()
}

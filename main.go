package main

import "github.com/skyops/txctl/cmd"

func main() {
	cmd.Execute()
}

package main

import "codemap/cmd"

func main() {
	cmd.Execute()
}

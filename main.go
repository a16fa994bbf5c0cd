package main

import "basil/cmd"

func main() {
	cmd.Execute()
}

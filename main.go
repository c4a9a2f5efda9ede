package main

import "github.com/gema-dev/gema/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/knusbaum/robby/cmd"

func main() {
	cmd.Execute()
}

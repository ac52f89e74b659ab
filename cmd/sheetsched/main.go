package main

import "github.com/example/sheet-scheduler/cmd"

func main() {
	cmd.Execute()
}

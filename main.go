package main

import "github.com/jmehdipour/daily-coordinator/cmd"

func main() {
	cmd.Execute()
}

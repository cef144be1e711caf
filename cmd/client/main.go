package main

import "github.com/aveles/syncroom/cmd/client/cmd"

func main() {
	cmd.Execute()
}

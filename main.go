package main

import "omnipost/cmd"

func main() {
	cmd.Run()
}

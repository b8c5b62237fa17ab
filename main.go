package main

import "CollabFM/cmd"

func main() {
	cmd.Execute()
}

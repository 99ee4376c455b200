package main

import "user-level-system/cmd"

func main() {
	cmd.Execute()
}

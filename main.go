package main

import "github.com/KaramelBytes/cleanloom/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/king0929zion/Zigent-sub000/cmd"

func main() {
	cmd.Execute()
}

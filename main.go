package main

import "yqhp/rowfarm/cmd"

func main() {
	cmd.Execute()
}

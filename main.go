package main

import "github.com/nextlevelbuilder/threadrun/cmd"

func main() {
	cmd.Execute()
}

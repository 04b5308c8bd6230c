package main

import "github.com/fieldhand/agrichat/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/LENAX/async-task/pkg/cli/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/taskboard/taskchat/internal/cli"

func main() {
	cli.Execute()
}

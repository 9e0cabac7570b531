package main

import "github.com/bhumanlog/btlog/cmd/btlog"

func main() {
	cmd.Execute()
}

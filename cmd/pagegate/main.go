package main

import "github.com/pagegate/pagegate/cmd/pagegate/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/Kashuab/leasekeeper/cmd"

func main() {
	cmd.Execute()
}

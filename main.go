package main

import (
	"mirlo/cmd"
)

func main() {
	cmd.Execute()
}

package main

import "github.com/valpere/llmvalues/cmd"

func main() {
	cmd.Execute()
}

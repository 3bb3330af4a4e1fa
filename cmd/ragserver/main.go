package main

import "github.com/wfan24990-glitch/rag-fastapi/cmd"

func main() {
	cmd.Execute()
}

package main

import "github.com/audiolibrelab/voicecollect/cmd"

func main() {
	cmd.Execute()
}

package main

import (
	"fmt"
	"os"

	tool "github.com/sandeepkv93/secure-session-core/internal/tools/sessionctl"
)

func main() {
	err := tool.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(tool.ExitCode(err))
}

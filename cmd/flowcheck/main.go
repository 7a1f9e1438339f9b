package main

import (
	"log"

	tool "github.com/sandeepkv93/secure-session-core/internal/tools/flowcheck"
)

func main() {
	if err := tool.NewRootCommand().Execute(); err != nil {
		log.Fatal(err)
	}
}

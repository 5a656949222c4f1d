package main

import (
	"log"

	"github.com/relay-tools/bkt/cmd/bkt"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	bkt.Execute()
}

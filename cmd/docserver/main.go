// cmd/docserver/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
)

func main() {
	port := flag.String("port", "8090", "Port to serve documentation on")
	dir := flag.String("dir", ".", "Directory containing the allocator's markdown docs")
	flag.Parse()

	absDir, err := filepath.Abs(*dir)
	if err != nil {
		log.Fatalf("failed to get absolute path: %v", err)
	}

	if _, err := os.Stat(absDir); os.IsNotExist(err) {
		log.Fatalf("documentation directory does not exist: %s", absDir)
	}

	fs := http.FileServer(http.Dir(absDir))
	http.Handle("/", fs)

	addr := fmt.Sprintf(":%s", *port)
	log.Printf("slaballoc documentation server")
	log.Printf("serving docs from: %s", absDir)
	log.Printf("running at: http://localhost%s", addr)
	log.Printf("try: http://localhost%s/SPEC_FULL.md", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

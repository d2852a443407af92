// Package main creates large random files for storage benchmarks.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
)

const chunkSize = 64 << 20 // write in 64 MiB chunks

func main() {
	size := flag.String("size", "1G", "File size (e.g. 512M, 2G)")
	force := flag.Bool("force", false, "Overwrite an existing file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <path>\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	total, err := bytefmt.ToBytes(*size)
	if err != nil {
		log.Fatalf("Error: invalid -size %q: %v", *size, err)
	}

	if _, err := os.Stat(path); err == nil && !*force {
		log.Fatalf("Error: %s exists, use -force to overwrite", path)
	}

	if err := writeFile(path, int64(total)); err != nil {
		os.Remove(path)
		log.Fatalf("Error: %v", err)
	}
}

func writeFile(path string, total int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	chunk := make([]byte, chunkSize)
	start := time.Now()
	var written int64

	for written < total {
		n := int64(len(chunk))
		if remaining := total - written; remaining < n {
			n = remaining
		}
		if _, err := rand.Read(chunk[:n]); err != nil {
			return fmt.Errorf("generate random data: %w", err)
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		written += n

		elapsed := time.Since(start).Seconds()
		rate := float64(written) / elapsed
		fmt.Printf("\r%s / %s (%s/s)", bytefmt.ByteSize(uint64(written)),
			bytefmt.ByteSize(uint64(total)), bytefmt.ByteSize(uint64(rate)))
	}
	fmt.Println()

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	log.Printf("Wrote %s (%s) in %v", path, bytefmt.ByteSize(uint64(total)),
		time.Since(start).Round(time.Millisecond))
	return nil
}

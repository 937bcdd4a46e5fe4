// Command elfcheck validates that executable images can be loaded by the
// kernel's ELF loader. Each image is mapped read-only and checked
// concurrently; the command exits with a non-zero status if any image is
// rejected.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"kcore/kernel/exec"

	"golang.org/x/exp/mmap"
	"golang.org/x/sync/errgroup"
)

// result describes the outcome of checking a single image.
type result struct {
	path     string
	entry    uintptr
	segments []exec.Segment
	err      error
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[elfcheck] error: %s\n", err.Error())
	os.Exit(1)
}

// checkImage maps the file at path and parses it as a loadable image.
func checkImage(path string) result {
	res := result{path: path}

	r, err := mmap.Open(path)
	if err != nil {
		res.err = err
		return res
	}
	defer r.Close()

	data := make([]byte, r.Len())
	if _, err = r.ReadAt(data, 0); err != nil && err != io.EOF {
		res.err = err
		return res
	}

	img, kErr := exec.ParseImage(data)
	if kErr != nil {
		res.err = kErr
		return res
	}

	res.entry = uintptr(img.Entry)
	res.segments = img.Segments
	return res
}

// checkImages checks every path using at most workers goroutines. The
// results are returned in the order of paths.
func checkImages(paths []string, workers int) []result {
	results := make([]result, len(paths))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			results[i] = checkImage(path)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// report writes a summary line per result (and one line per segment when
// verbose is set) to w and returns the number of rejected images.
func report(w io.Writer, results []result, verbose bool) int {
	var failed int
	for _, res := range results {
		if res.err != nil {
			failed++
			fmt.Fprintf(w, "%s: FAIL: %s\n", res.path, res.err)
			continue
		}

		fmt.Fprintf(w, "%s: ok: entry 0x%x, %d segments\n", res.path, res.entry, len(res.segments))
		if !verbose {
			continue
		}

		for _, seg := range res.segments {
			fmt.Fprintf(w, "  0x%016x filesz 0x%x memsz 0x%x %s\n", uintptr(seg.VirtAddr), seg.FileSize, seg.MemSize, seg.Flags)
		}
	}
	return failed
}

func main() {
	verbose := flag.Bool("v", false, "list the loadable segments of each image")
	workers := flag.Int("j", runtime.NumCPU(), "number of images to check concurrently")
	flag.Parse()

	if flag.NArg() == 0 {
		exit(fmt.Errorf("usage: elfcheck [-v] [-j N] image..."))
	}

	if *workers < 1 {
		exit(fmt.Errorf("invalid worker count %d", *workers))
	}

	if failed := report(os.Stdout, checkImages(flag.Args(), *workers), *verbose); failed != 0 {
		exit(fmt.Errorf("%d of %d images rejected", failed, flag.NArg()))
	}
}

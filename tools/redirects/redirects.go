// Command redirects collects the go:redirect-from directives of the kernel
// packages and patches the redirect table of a linked kernel image so that
// the rt0 code can overwrite the runtime functions with their kernel
// replacements.
package main

import (
	"bufio"
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	redirectDirective    = "//go:redirect-from"
	redirectTableSection = ".goredirectstbl"
)

type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

var errNoModuleDirective = errors.New("go.mod does not declare a module path")

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[redirects] error: %s\n", err.Error())
	os.Exit(1)
}

// modulePath returns the module path declared by the go.mod file at
// goModFile.
func modulePath(goModFile string) (string, error) {
	data, err := os.ReadFile(goModFile)
	if err != nil {
		return "", err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}

	if err = scanner.Err(); err != nil {
		return "", err
	}
	return "", errNoModuleDirective
}

func collectGoFiles(root string) ([]string, error) {
	var goFiles []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			goFiles = append(goFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return goFiles, nil
}

// findRedirects parses goFiles, which live below the module root folder, and
// returns a redirect for each function annotated with a go:redirect-from
// directive. The redirect target is the fully qualified symbol name of the
// annotated function.
func findRedirects(modPath, modRoot string, goFiles []string) ([]*redirect, error) {
	var redirects []*redirect

	for _, goFile := range goFiles {
		fset := token.NewFileSet()

		f, err := parser.ParseFile(fset, goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("%s: %s", goFile, err)
		}

		pkgDir, err := filepath.Rel(modRoot, filepath.Dir(goFile))
		if err != nil {
			return nil, err
		}

		pkgPath := path.Join(modPath, filepath.ToSlash(pkgDir))
		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil {
				continue
			}

			fqName := pkgPath + "." + fnDecl.Name.Name
			for _, comment := range fnDecl.Doc.List {
				if !strings.HasPrefix(comment.Text, redirectDirective) {
					continue
				}

				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != redirectDirective {
					return nil, fmt.Errorf("malformed go:redirect-from syntax for %q", fqName)
				}

				redirects = append(redirects, &redirect{
					src: fields[1],
					dst: fqName,
				})
			}
		}
	}

	return redirects, nil
}

// resolveSymbols fills in the virtual addresses of the source and target of
// each redirect from the symbol table of the kernel image.
func resolveSymbols(redirects []*redirect, img *elf.File) error {
	symbols, err := img.Symbols()
	if err != nil {
		return err
	}

	addrs := make(map[string]uint64, len(symbols))
	for _, symbol := range symbols {
		addrs[symbol.Name] = symbol.Value
	}

	for _, redirect := range redirects {
		redirect.srcVMA = addrs[redirect.src]
		redirect.dstVMA = addrs[redirect.dst]

		switch {
		case redirect.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.src)
		case redirect.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.dst)
		}
	}

	return nil
}

// writeTable encodes the redirect table as (src, dst) little-endian uint64
// pairs.
func writeTable(w io.Writer, redirects []*redirect) error {
	for _, redirect := range redirects {
		if err := binary.Write(w, binary.LittleEndian, [2]uint64{redirect.srcVMA, redirect.dstVMA}); err != nil {
			return err
		}
	}
	return nil
}

func populateTable(redirects []*redirect, imgFile string) error {
	img, err := elf.Open(imgFile)
	if err != nil {
		return err
	}
	defer img.Close()

	table := img.Section(redirectTableSection)
	if table == nil {
		return fmt.Errorf("%s: missing %s section", imgFile, redirectTableSection)
	}

	if uint64(len(redirects))*16 > table.Size {
		return fmt.Errorf("%s: %d redirects do not fit in the %d byte %s section", imgFile, len(redirects), table.Size, redirectTableSection)
	}

	if err = resolveSymbols(redirects, img); err != nil {
		return fmt.Errorf("%s: %s", imgFile, err)
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	return writeTable(io.NewOffsetWriter(f, int64(table.Offset)), redirects)
}

func main() {
	flag.Parse()
	if matches, _ := filepath.Glob("kernel/"); len(matches) != 1 {
		exit(errors.New("this tool must be run from the module root folder"))
	}

	if len(flag.Args()) == 0 {
		exit(errors.New("missing command"))
	}

	cmd := flag.Arg(0)
	var imgFile string
	switch cmd {
	case "count", "list":
	case "populate-table":
		if len(flag.Args()) != 2 {
			exit(errors.New("populate-table requires the path to the kernel image as an argument"))
		}
		imgFile = flag.Arg(1)
	default:
		exit(fmt.Errorf("unknown command %q", cmd))
	}

	modPath, err := modulePath("go.mod")
	if err != nil {
		exit(err)
	}

	goFiles, err := collectGoFiles("kernel")
	if err != nil {
		exit(err)
	}

	redirects, err := findRedirects(modPath, ".", goFiles)
	if err != nil {
		exit(err)
	}

	switch cmd {
	case "count":
		fmt.Printf("%d", len(redirects))
	case "list":
		for _, redirect := range redirects {
			fmt.Printf("%s -> %s\n", redirect.src, redirect.dst)
		}
	default:
		if err = populateTable(redirects, imgFile); err != nil {
			exit(err)
		}
	}
}

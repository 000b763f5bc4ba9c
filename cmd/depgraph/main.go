// Command depgraph prints a Graphviz DOT description of breenix's internal
// package dependency graph.
//
// Grounded on the teacher's misc/depgraph/main.go, which shelled out to
// `go mod graph` and emitted one edge per line of its output. That
// approach only shows module-to-module edges; breenix is a single module,
// so the interesting graph is package-to-package within it. This version
// loads the package graph directly via golang.org/x/tools/go/packages
// (no subprocess) and reads go.mod's own require block with
// golang.org/x/mod/modfile to list direct third-party dependencies
// alongside it, rather than reinvoking the go tool a second time.
package main

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/packages"
)

func main() {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, "breenix/...")
	if err != nil {
		log.Fatal(err)
	}

	w := os.Stdout
	fmt.Fprintln(w, "digraph deps {")
	for _, p := range pkgs {
		for imp := range p.Imports {
			if len(imp) >= 7 && imp[:7] == "breenix" {
				fmt.Fprintf(w, "    %q -> %q;\n", p.PkgPath, imp)
			}
		}
	}
	fmt.Fprintln(w, "}")

	data, err := os.ReadFile("go.mod")
	if err != nil {
		log.Fatal(err)
	}
	mf, err := modfile.Parse("go.mod", data, nil)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Fprintln(os.Stderr, "direct requires:")
	for _, r := range mf.Require {
		if !r.Indirect {
			fmt.Fprintf(os.Stderr, "  %s %s\n", r.Mod.Path, r.Mod.Version)
		}
	}
}

// Command xsdgen derives a draft extraction schema from an XML Schema (XSD)
// file and prints it as JSON.
//
// Usage:
//
//	xsdgen -xsd catalog.xsd -record toy > toys.schema.json
//
// Without -record the first global element declaration is used, which for
// document-style XSDs is usually the document root rather than the repeating
// record, so naming the record element is recommended.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"xmlsift/internal/xsdgen"
)

func main() {
	var (
		xsdPath   string
		recordTag string
	)
	flag.StringVar(&xsdPath, "xsd", "", "XSD file path (required)")
	flag.StringVar(&recordTag, "record", "", "record element name (default: first global element)")
	flag.Parse()

	if xsdPath == "" {
		fatalf("xsdgen: -xsd is required")
	}

	f, err := os.Open(xsdPath)
	if err != nil {
		fatalf("xsdgen: open xsd: %v", err)
	}
	defer f.Close()

	sch, err := xsdgen.Generate(f, recordTag)
	if err != nil {
		fatalf("%v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sch); err != nil {
		fatalf("xsdgen: encode schema: %v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

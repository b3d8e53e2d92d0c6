package xml

import (
	"fmt"
	"io"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// charsetReader decodes non-UTF-8 documents based on the encoding declared in
// the XML prolog (e.g. <?xml version="1.0" encoding="ISO-8859-2"?>).
//
// Real-world registry dumps are frequently ISO-8859-x or Windows-125x; the
// htmlindex table resolves all the usual labels and their aliases.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("xml: unsupported charset %q", label)
	}
	if enc == unicode.UTF8 {
		return input, nil
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

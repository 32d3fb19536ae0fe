package fetcher

import (
	"encoding/xml"
	"io"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

// NewXMLDecoder returns a decoder that honours the encoding declared in the
// XML prolog (windows-1251 and the other WHATWG encodings).
func NewXMLDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "xml: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return d
}

// DecodeXML decodes a whole document into v.
func DecodeXML(r io.Reader, v any) error {
	if err := NewXMLDecoder(r).Decode(v); err != nil {
		return eris.Wrap(err, "xml: decode")
	}
	return nil
}

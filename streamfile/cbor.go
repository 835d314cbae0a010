package streamfile

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

type cborFile struct {
	Header  Header   `cbor:"1,keyasint"`
	Records []Record `cbor:"2,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

// encodeCBOR writes the header and records in canonical CBOR, so
// identical streams encode to identical bytes.
func encodeCBOR(w io.Writer, h Header, records []Record) error {
	return encMode.NewEncoder(w).Encode(cborFile{Header: h, Records: records})
}

// DecodeCBOR reads a binary stream file.
func DecodeCBOR(r io.Reader) (Header, []Record, error) {
	var f cborFile
	if err := cbor.NewDecoder(r).Decode(&f); err != nil {
		return Header{}, nil, fmt.Errorf("streamfile: %w", err)
	}
	if f.Header.Version != version {
		return Header{}, nil, fmt.Errorf("streamfile: unsupported version %d", f.Header.Version)
	}
	if f.Header.Points != len(f.Records) {
		return Header{}, nil, fmt.Errorf("streamfile: header declares %d records, found %d", f.Header.Points, len(f.Records))
	}
	return f.Header, f.Records, nil
}

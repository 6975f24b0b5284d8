package field

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/klauspost/compress/gzip"
)

// EncodeLattice compresses the lattice using gob encoding and gzip
// compression so repeat runs can skip gridding.
func EncodeLattice(lat *Lattice) ([]byte, error) {
	if lat == nil {
		return nil, fmt.Errorf("nil lattice: %w", ErrInvalidGrid)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := gob.NewEncoder(gz)
	if err := enc.Encode(lat); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeLattice decompresses and decodes a lattice from a gob+gzip blob.
func DecodeLattice(blob []byte) (*Lattice, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty lattice blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var lat Lattice
	dec := gob.NewDecoder(gz)
	if err := dec.Decode(&lat); err != nil {
		return nil, fmt.Errorf("failed to decode lattice: %w", err)
	}
	if err := lat.Validate(); err != nil {
		return nil, err
	}
	return &lat, nil
}

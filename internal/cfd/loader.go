package cfd

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Layout locates the temperature and position columns in a delimited
// sample file. The x, y and z columns are contiguous from PositionColumn.
type Layout struct {
	TemperatureColumn int
	PositionColumn    int
	SkipRows          int
}

// LoadOptions controls how a sample file is parsed.
type LoadOptions struct {
	Layout Layout
	// VertexOffset is subtracted from every z so heights are relative to
	// the primary mirror vertex.
	VertexOffset float64
}

// DefaultLoadOptions matches the optvol export with the 3.9 m vertex datum.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Layout:       Layout{TemperatureColumn: 0, PositionColumn: 2, SkipRows: 1},
		VertexOffset: 3.9,
	}
}

// gzipMagic is the two byte header of a gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// Load parses a comma separated sample file. Gzip compressed input is
// detected from the stream header and decompressed transparently.
func Load(r io.Reader, opts LoadOptions) (*SampleSet, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if head, err := br.Peek(2); err == nil && head[0] == gzipMagic[0] && head[1] == gzipMagic[1] {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	lay := opts.Layout
	need := lay.TemperatureColumn + 1
	if lay.PositionColumn+3 > need {
		need = lay.PositionColumn + 3
	}

	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	reader.TrimLeadingSpace = true

	var samples []Sample
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read sample csv: %w", err)
		}
		line++
		if line <= lay.SkipRows {
			continue
		}
		if len(record) < need {
			return nil, fmt.Errorf("invalid record at line %d: expected at least %d fields, got %d", line, need, len(record))
		}
		t, err := parseField(record[lay.TemperatureColumn])
		if err != nil {
			return nil, fmt.Errorf("line %d temperature: %w", line, err)
		}
		var pos [3]float64
		for k := range pos {
			if pos[k], err = parseField(record[lay.PositionColumn+k]); err != nil {
				return nil, fmt.Errorf("line %d position[%d]: %w", line, k, err)
			}
		}
		samples = append(samples, Sample{T: t, X: pos[0], Y: pos[1], Z: pos[2] - opts.VertexOffset})
	}

	if len(samples) == 0 {
		return nil, ErrEmptySamples
	}
	return NewSampleSet(samples), nil
}

func parseField(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

package streamfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// feiMagic identifies a stream with 16 bit addresses.
const feiMagic = "s16"

// encodeFEI writes the text stream format:
//
//	s16
//	<repetitions>
//	<record count>
//	<dwell> <x> <y>
//	...
//
// The format has no room for layers; they follow implicitly from the
// record order.
func encodeFEI(w io.Writer, h Header, records []Record) error {
	bufw := bufio.NewWriter(w)
	fmt.Fprintf(bufw, "%s\n1\n%d\n", feiMagic, h.Points)
	var line []byte
	for _, r := range records {
		line = line[:0]
		line = strconv.AppendUint(line, uint64(r.Dwell), 10)
		line = append(line, ' ')
		line = strconv.AppendInt(line, int64(r.X), 10)
		line = append(line, ' ')
		line = strconv.AppendInt(line, int64(r.Y), 10)
		line = append(line, '\n')
		bufw.Write(line)
	}
	return bufw.Flush()
}

// DecodeFEI reads a text stream. The layers of the returned records
// are unknown and left zero.
func DecodeFEI(r io.Reader) ([]Record, error) {
	s := bufio.NewScanner(r)
	var lines int
	next := func() (string, error) {
		if !s.Scan() {
			if err := s.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		lines++
		return strings.TrimSpace(s.Text()), nil
	}
	magic, err := next()
	if err != nil {
		return nil, err
	}
	if magic != feiMagic {
		return nil, fmt.Errorf("streamfile: unknown stream magic %q", magic)
	}
	if _, err := next(); err != nil {
		return nil, err
	}
	countLine, err := next()
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(countLine)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("streamfile: line %d: invalid record count %q", lines, countLine)
	}
	records := make([]Record, 0, count)
	for range count {
		l, err := next()
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(l)
		if len(fields) != 3 {
			return nil, fmt.Errorf("streamfile: line %d: malformed record %q", lines, l)
		}
		dwell, err1 := strconv.ParseUint(fields[0], 10, 32)
		x, err2 := strconv.Atoi(fields[1])
		y, err3 := strconv.Atoi(fields[2])
		if err := errors.Join(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("streamfile: line %d: %w", lines, err)
		}
		records = append(records, Record{X: x, Y: y, Dwell: uint32(dwell)})
	}
	if s.Scan() {
		return nil, fmt.Errorf("streamfile: line %d: trailing data after %d records", lines+1, count)
	}
	return records, nil
}

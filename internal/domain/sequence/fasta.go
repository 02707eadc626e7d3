package sequence

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// maxFastaLine allows single-line sequences up to 64 MiB.
const maxFastaLine = 64 * 1024 * 1024

// Record is one parsed FASTA entry.
type Record struct {
	Name        string
	Description *string
	Data        string
}

// FastaError describes malformed FASTA input.
type FastaError struct {
	Line int
	Msg  string
}

func (e *FastaError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// ParseFasta reads every record from r. Headers are split at the first whitespace into
// a name and an optional description; blank lines and in-line whitespace are ignored.
func ParseFasta(ctx context.Context, r io.Reader) ([]Record, error) {
	var out []Record
	err := ScanFasta(ctx, r, func(rec Record) error {
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ScanFasta parses r and calls emit for each completed record.
func ScanFasta(ctx context.Context, r io.Reader, emit func(Record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFastaLine)

	var (
		current  *Record
		data     strings.Builder
		lineNo   int
		emitted  int
		nonBlank bool
	)

	flush := func() error {
		if current == nil {
			return nil
		}
		if data.Len() == 0 {
			return &FastaError{Msg: fmt.Sprintf("sequence '%s' has no sequence data", current.Name)}
		}
		current.Data = data.String()
		data.Reset()
		emitted++
		rec := *current
		current = nil
		return emit(rec)
	}

	for sc.Scan() {
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		nonBlank = true
		if line[0] == '>' {
			if err := flush(); err != nil {
				return err
			}
			header := strings.TrimSpace(string(line[1:]))
			if header == "" {
				return &FastaError{Line: lineNo, Msg: "header is empty after '>'"}
			}
			current = parseHeader(header)
			continue
		}
		if current == nil {
			return &FastaError{Line: lineNo, Msg: "sequence data found before header"}
		}
		for _, f := range bytes.Fields(line) {
			data.Write(f)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("fasta scan: %w", err)
	}
	if !nonBlank {
		return &FastaError{Msg: "FASTA file is empty"}
	}
	if err := flush(); err != nil {
		return err
	}
	if emitted == 0 {
		return &FastaError{Msg: "no valid sequences found in FASTA file"}
	}
	return nil
}

func parseHeader(header string) *Record {
	i := strings.IndexAny(header, " \t")
	if i < 0 {
		return &Record{Name: header}
	}
	rec := &Record{Name: header[:i]}
	if d := strings.TrimSpace(header[i+1:]); d != "" {
		rec.Description = &d
	}
	return rec
}

// WriteFastaHeader writes the ">name\n" line that precedes streamed sequence data.
func WriteFastaHeader(w io.Writer, name string) error {
	_, err := fmt.Fprintf(w, ">%s\n", name)
	return err
}

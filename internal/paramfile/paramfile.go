// Package paramfile reads and writes the fixed-width configuration file
// consumed by the training engine.
//
// The file has two header lines followed by one line per parameter. The
// first FieldWidth characters of a line hold the value, everything after
// them is a comment for humans.
package paramfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nnfit/internal/models"
)

const (
	// FieldWidth is the number of leading characters holding a value
	FieldWidth = 10
	// FieldCount is the number of data lines after the header
	FieldCount = 20

	headerLines = 2
	headerTitle = "DATA      // COMMENT "
)

var headerRule = strings.Repeat("-", 81)

// field describes one data line. ptr returns a pointer to the backing
// struct field and its static type decides how the value is parsed.
type field struct {
	name    string
	comment string
	ptr     func(p *models.ParameterSet) any
}

var schema = [FieldCount]field{
	{"new_ts", "// generate new TS? Y/N [bool ini_d.flag_genTS]", func(p *models.ParameterSet) any { return &p.NewTS }},
	{"ts_size", "// TS size [int ini_d.ts_size]", func(p *models.ParameterSet) any { return &p.TSSize }},
	{"mb", "// mini-batch size [int ini_d.mb_size] < TS size", func(p *models.ParameterSet) any { return &p.MiniBatch }},
	{"fx", "// choose fx: (A) quad, (B) linear (C) cosine [char ini_d.fx_choice]", func(p *models.ParameterSet) any { return &p.Fx }},
	{"a", "// a [float ini_d.fx_a]", func(p *models.ParameterSet) any { return &p.A }},
	{"b", "// b [float ini_d.fx_b]", func(p *models.ParameterSet) any { return &p.B }},
	{"c", "// c [float ini_d.fx_c]", func(p *models.ParameterSet) any { return &p.C }},
	{"eta", "// learning rate [double ini_d.eta]", func(p *models.ParameterSet) any { return &p.Eta }},
	{"epoch_num", "// epoch number [int ini_d.epoch_number]", func(p *models.ParameterSet) any { return &p.EpochNum }},
	{"delta", "// delta, threshold value of C to stop grad-desc [double ini_d.delta]", func(p *models.ParameterSet) any { return &p.Delta }},
	{"w00l1", "// w_{00}^{(1)} layer 1 (hidden) weight 00", func(p *models.ParameterSet) any { return &p.W00L1 }},
	{"w10l1", "// w_{10}^{(1)}", func(p *models.ParameterSet) any { return &p.W10L1 }},
	{"w20l1", "// w_{20}^{(1)} all three -> [float ini_d.wl1[3]]", func(p *models.ParameterSet) any { return &p.W20L1 }},
	{"w00l2", "// w_{00}^{(2)} layer 2 (output) weight 00", func(p *models.ParameterSet) any { return &p.W00L2 }},
	{"w01l2", "// w_{01}^{(2)}", func(p *models.ParameterSet) any { return &p.W01L2 }},
	{"w02l2", "// w_{02}^{(2)} all three -> [float ini_d.wl2[3]]", func(p *models.ParameterSet) any { return &p.W02L2 }},
	{"b0l1", "// b_0^{(1)} layer 1 bias [float ini_d.b0l1]", func(p *models.ParameterSet) any { return &p.B0L1 }},
	{"b1l1", "// b_1^{(1)}", func(p *models.ParameterSet) any { return &p.B1L1 }},
	{"b2l1", "// b_2^{(1)} all three -> [float ini_d.bl1[3]]", func(p *models.ParameterSet) any { return &p.B2L1 }},
	{"b0l2", "// b_0^{(2)} layer 2 bias [float ini_d.bl2]", func(p *models.ParameterSet) any { return &p.B0L2 }},
}

// FieldNames returns the parameter names in file order
func FieldNames() []string {
	names := make([]string, len(schema))
	for i, f := range schema {
		names[i] = f.name
	}
	return names
}

// FormatError reports a configuration file that cannot be read or written
type FormatError struct {
	Path   string
	Line   int // 1-based, 0 when not tied to a line
	Field  string
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("config format error")
	if e.Path != "" {
		b.WriteString(" in ")
		b.WriteString(e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Read loads a ParameterSet from path
func Read(path string) (models.ParameterSet, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.ParameterSet{}, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	p, err := Decode(file)
	if err != nil {
		if fe, ok := err.(*FormatError); ok {
			fe.Path = path
		}
		return models.ParameterSet{}, err
	}
	return p, nil
}

// Write replaces the file at path with the encoding of p. The content is
// written to a temporary file in the same directory and renamed over path,
// so readers never observe a partial file.
func Write(p models.ParameterSet, path string) error {
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		if fe, ok := err.(*FormatError); ok {
			fe.Path = path
		}
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to chmod config file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// Decode parses the configuration format from r
func Decode(r io.Reader) (models.ParameterSet, error) {
	var p models.ParameterSet

	scanner := bufio.NewScanner(r)
	line := 0
	for ; line < headerLines; line++ {
		if !scanner.Scan() {
			return p, scanErr(scanner, line+1, "", "missing header line")
		}
	}

	for i, f := range schema {
		if !scanner.Scan() {
			return p, scanErr(scanner, line+1, f.name, "missing data line")
		}
		line++

		text := strings.TrimRight(scanner.Text(), "\r")
		if len(text) > FieldWidth {
			text = text[:FieldWidth]
		}
		value := strings.TrimSpace(text)
		if value == "" {
			return p, &FormatError{Line: line, Field: f.name, Reason: "missing value"}
		}

		if err := parseValue(schema[i].ptr(&p), value); err != nil {
			return p, &FormatError{Line: line, Field: f.name, Reason: fmt.Sprintf("invalid value %q", value), Err: err}
		}
	}

	return p, nil
}

func scanErr(scanner *bufio.Scanner, line int, name, reason string) error {
	return &FormatError{Line: line, Field: name, Reason: reason, Err: scanner.Err()}
}

func parseValue(dst any, value string) error {
	switch d := dst.(type) {
	case *string:
		if value != "Y" && value != "N" {
			return fmt.Errorf("expected Y or N")
		}
		*d = value
	case *models.FunctionFamily:
		ff := models.FunctionFamily(value)
		if !ff.Valid() {
			return fmt.Errorf("expected one of A, B, C")
		}
		*d = ff
	case *int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		*d = n
	case *float64:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("value is not finite")
		}
		*d = v
	default:
		return fmt.Errorf("unsupported field type %T", dst)
	}
	return nil
}

// Encode writes p in the configuration format to w
func Encode(w io.Writer, p models.ParameterSet) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, headerTitle)
	fmt.Fprintln(bw, headerRule)

	for i, f := range schema {
		value, err := formatValue(f.ptr(&p))
		if err != nil {
			return &FormatError{Line: headerLines + i + 1, Field: f.name, Reason: "cannot encode value", Err: err}
		}
		// at least one blank must separate the value from its comment
		if len(value) >= FieldWidth {
			return &FormatError{Line: headerLines + i + 1, Field: f.name, Reason: fmt.Sprintf("value %q wider than %d characters", value, FieldWidth-1)}
		}
		fmt.Fprintf(bw, "%-*s%s\n", FieldWidth, value, f.comment)
	}

	return bw.Flush()
}

func formatValue(src any) (string, error) {
	switch s := src.(type) {
	case *string:
		if *s != "Y" && *s != "N" {
			return "", fmt.Errorf("expected Y or N, got %q", *s)
		}
		return *s, nil
	case *models.FunctionFamily:
		if !s.Valid() {
			return "", fmt.Errorf("unknown function family %q", string(*s))
		}
		return string(*s), nil
	case *int:
		return strconv.Itoa(*s), nil
	case *float64:
		if math.IsNaN(*s) || math.IsInf(*s, 0) {
			return "", fmt.Errorf("value is not finite")
		}
		return strconv.FormatFloat(*s, 'g', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported field type %T", src)
	}
}

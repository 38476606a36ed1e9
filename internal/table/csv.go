package table

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadCSV parses a CSV stream into a table. The reader tolerates ragged rows
// and lazy quoting because real-world exports produce both; short rows pad
// with nulls, long rows drop the unlabeled tail.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return New(), nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := New(header...)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := make(Row, len(header))
		for i, c := range header {
			if i < len(record) && record[i] != "" {
				row[c] = record[i]
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// ReadCSVFile reads a CSV file into a table.
func ReadCSVFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadOrEmpty reads a CSV file, returning an empty table when the file does
// not exist yet. Master tables start life this way on the first run.
func LoadOrEmpty(path string) (*Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return New(), nil
	}
	return ReadCSVFile(path)
}

// WriteCSV writes the table as CSV with the table's column order.
func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.cols); err != nil {
		return err
	}
	record := make([]string, len(t.cols))
	for _, r := range t.rows {
		for i, c := range t.cols {
			record[i] = r[c]
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSVFile rewrites the full snapshot at path. The write goes to a
// temp file first and renames into place so a crash mid-write cannot leave
// a truncated master behind.
func (t *Table) WriteCSVFile(path string) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if err := t.WriteCSV(tmp); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// stripBOM removes a UTF-8 byte order mark; Zoom and CRM exports often
// carry one.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		br.Discard(3)
	}
	return br
}

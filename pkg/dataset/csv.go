package dataset

import (
	"bufio"
	"io"
	"strings"

	"github.com/bruin-data/dealsync/pkg/deal"
	"github.com/pkg/errors"
)

const DefaultDelimiter = ';'

// WriteCSV writes the header and every row with all fields quoted. Absent cells
// are written as an unquoted empty field so that the warehouse reads them as
// NULL rather than an empty string.
func WriteCSV(w io.Writer, d *Dataset, delimiter rune) error {
	if delimiter == 0 || delimiter == '"' || delimiter == '\r' || delimiter == '\n' {
		return errors.Errorf("invalid csv delimiter %q", delimiter)
	}

	bw := bufio.NewWriter(w)

	header := make([]deal.Value, len(d.Columns))
	for i, c := range d.Columns {
		header[i] = deal.StringValue(c.Name)
	}

	if err := writeLine(bw, header, delimiter); err != nil {
		return errors.Wrap(err, "failed to write csv header")
	}

	for i, row := range d.Rows {
		if err := writeLine(bw, row, delimiter); err != nil {
			return errors.Wrapf(err, "failed to write csv row %d", i)
		}
	}

	return errors.Wrap(bw.Flush(), "failed to flush csv output")
}

func writeLine(w *bufio.Writer, cells []deal.Value, delimiter rune) error {
	for i, cell := range cells {
		if i > 0 {
			if _, err := w.WriteRune(delimiter); err != nil {
				return err
			}
		}

		if cell.IsAbsent() {
			continue
		}

		if err := w.WriteByte('"'); err != nil {
			return err
		}
		if _, err := w.WriteString(strings.ReplaceAll(cell.String(), `"`, `""`)); err != nil {
			return err
		}
		if err := w.WriteByte('"'); err != nil {
			return err
		}
	}

	return w.WriteByte('\n')
}

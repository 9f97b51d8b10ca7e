package results

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// ColumnDescriptor is what a backend knows about a result column before any
// value has been read.
type ColumnDescriptor struct {
	Name         string
	DatabaseType string
}

// Cursor is a forward-only view over a backend result set. Adapters wrap
// pgx.Rows and *sql.Rows behind it.
type Cursor interface {
	Columns() []ColumnDescriptor
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Converted is a materialized result set.
type Converted struct {
	Columns   []models.ColumnInfo
	Rows      []models.Row
	TotalRows int
	Truncated bool
}

// ctxCheckInterval is how many rows are read between context checks.
const ctxCheckInterval = 256

type Converter struct {
	logger *zap.Logger
}

func NewConverter(logger *zap.Logger) *Converter {
	return &Converter{logger: logger.Named("result-converter")}
}

// Convert drains cur into ordered rows. At most maxRows rows are kept; rows
// past the limit are still read so TotalRows reflects the real size.
// maxRows <= 0 keeps everything. The cursor is closed on return.
func (c *Converter) Convert(ctx context.Context, cur Cursor, maxRows int) (*Converted, error) {
	defer cur.Close()

	descs := cur.Columns()
	columns := make([]models.ColumnInfo, len(descs))
	for i, d := range descs {
		columns[i] = models.ColumnInfo{
			Name:         d.Name,
			DatabaseType: d.DatabaseType,
			Type:         LogicalTypeFromName(d.DatabaseType),
		}
	}

	out := &Converted{Columns: columns, Rows: make([]models.Row, 0)}
	for cur.Next() {
		out.TotalRows++
		if out.TotalRows%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if maxRows > 0 && len(out.Rows) >= maxRows {
			out.Truncated = true
			continue
		}

		values, err := cur.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make(models.Row, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col.Name] = Normalize(values[i], col.Type)
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	resolveUnknownTypes(out.Columns, out.Rows)

	if out.Truncated {
		c.logger.Debug("Result truncated",
			zap.Int("kept", len(out.Rows)),
			zap.Int("total", out.TotalRows))
	}
	return out, nil
}

// resolveUnknownTypes fills in logical types the driver could not name from
// the first non-null value in each column.
func resolveUnknownTypes(columns []models.ColumnInfo, rows []models.Row) {
	for i := range columns {
		if columns[i].Type != "" {
			continue
		}
		columns[i].Type = models.LogicalTypeObject
		for _, row := range rows {
			if v := row[columns[i].Name]; v != nil {
				columns[i].Type = LogicalTypeOfValue(v)
				break
			}
		}
	}
}

package extractors

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"schemascan/internal/db"
	"schemascan/internal/introspect"
	"schemascan/internal/logger"
	"schemascan/pkg/config"
)

// bqCatalog is the slice of the BigQuery SDK the extractor depends on.
type bqCatalog interface {
	Datasets(ctx context.Context) ([]string, error)
	Tables(ctx context.Context, dataset string) ([]string, error)
	Metadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error)
	Close() error
}

type bqClient struct {
	client *bigquery.Client
}

func (c bqClient) Datasets(ctx context.Context) ([]string, error) {
	var ids []string
	it := c.client.Datasets(ctx)
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, ds.DatasetID)
	}
}

func (c bqClient) Tables(ctx context.Context, dataset string) ([]string, error) {
	var ids []string
	it := c.client.Dataset(dataset).Tables(ctx)
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, t.TableID)
	}
}

func (c bqClient) Metadata(ctx context.Context, dataset, table string) (*bigquery.TableMetadata, error) {
	return c.client.Dataset(dataset).Table(table).Metadata(ctx)
}

func (c bqClient) Close() error {
	return c.client.Close()
}

// bqExtractor implements db.Extractor for BigQuery. Datasets play the role
// of schemas and all metadata comes from the SDK rather than SQL.
type bqExtractor struct {
	cfg     config.BigQueryParams
	opts    db.Options
	catalog bqCatalog
}

func newBigQuery(conn config.Connection, opts db.Options) (db.Extractor, error) {
	return &bqExtractor{cfg: *conn.BigQuery, opts: opts.WithDefaults()}, nil
}

func (e *bqExtractor) log() *logrus.Entry {
	return logger.Backend(config.BigQuery)
}

func (e *bqExtractor) Connect(ctx context.Context) error {
	var opts []option.ClientOption
	if e.cfg.KeyFilename != "" {
		opts = append(opts, option.WithCredentialsFile(e.cfg.KeyFilename))
	}
	if e.cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(e.cfg.Credentials)))
	}

	// the client keeps its construction context for token refreshes
	client, err := bigquery.NewClient(context.WithoutCancel(ctx), e.cfg.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", db.ErrConnectionFailed, config.BigQuery, err)
	}
	if e.cfg.Location != "" {
		client.Location = e.cfg.Location
	}
	e.catalog = bqClient{client: client}
	return nil
}

// Disconnect closes the client. It never fails; close errors are logged.
func (e *bqExtractor) Disconnect() error {
	if e.catalog == nil {
		return nil
	}
	if err := e.catalog.Close(); err != nil {
		e.log().Warnf("close: %v", err)
	}
	e.catalog = nil
	return nil
}

// ExtractSchema treats datasets as schemas. A dataset whose table listing
// fails is skipped and a table whose metadata fails is kept without
// columns, unless ctx itself has ended.
func (e *bqExtractor) ExtractSchema(ctx context.Context) (introspect.Schema, error) {
	var s introspect.Schema
	if e.catalog == nil {
		return s, fmt.Errorf("%s: %w", config.BigQuery, db.ErrNotConnected)
	}

	qctx, cancel := db.QueryTimeout(ctx, e.opts.QueryTimeout)
	datasets, err := e.catalog.Datasets(qctx)
	cancel()
	if err != nil {
		return s, fmt.Errorf("list datasets: %w", err)
	}

	for _, dataset := range datasets {
		qctx, cancel := db.QueryTimeout(ctx, e.opts.QueryTimeout)
		tables, err := e.catalog.Tables(qctx, dataset)
		cancel()
		if err != nil {
			if ierr := db.Interrupted(ctx, "list tables of "+dataset); ierr != nil {
				return introspect.Schema{}, ierr
			}
			e.log().WithField("schema", dataset).Warnf("skipping dataset: %v", err)
			continue
		}
		for _, table := range tables {
			t, err := e.table(ctx, dataset, table)
			if err != nil {
				return introspect.Schema{}, err
			}
			s.Tables = append(s.Tables, t)
		}
	}
	return s, nil
}

// table reads one metadata call. On failure the table is kept with no
// columns.
func (e *bqExtractor) table(ctx context.Context, dataset, table string) (introspect.Table, error) {
	qctx, cancel := db.QueryTimeout(ctx, e.opts.QueryTimeout)
	defer cancel()

	md, err := e.catalog.Metadata(qctx, dataset, table)
	if err != nil {
		if ierr := db.Interrupted(ctx, "metadata of "+dataset+"."+table); ierr != nil {
			return introspect.Table{}, ierr
		}
		e.log().WithFields(logrus.Fields{"schema": dataset, "table": table}).Warnf("metadata unavailable: %v", err)
		return tableRef{Name: table, Type: introspect.TypeTable}.table(dataset, nil), nil
	}

	ref := tableRef{Name: table, Type: string(md.Type)}
	cols := make([]introspect.Column, 0, len(md.Schema))
	for _, f := range md.Schema {
		if f == nil || f.Name == "" {
			continue
		}
		cols = append(cols, bqColumn(f, len(cols)+1))
	}
	return ref.table(dataset, cols), nil
}

// bqTypeAliases maps legacy SQL type names onto their standard SQL names.
var bqTypeAliases = map[bigquery.FieldType]string{
	bigquery.IntegerFieldType: "INT64",
	bigquery.FloatFieldType:   "FLOAT64",
	bigquery.BooleanFieldType: "BOOL",
	bigquery.RecordFieldType:  "STRUCT",
}

func bqTypeName(t bigquery.FieldType) string {
	if alias, ok := bqTypeAliases[t]; ok {
		return alias
	}
	return string(t)
}

func bqMode(f *bigquery.FieldSchema) string {
	switch {
	case f.Repeated:
		return "REPEATED"
	case f.Required:
		return "REQUIRED"
	default:
		return "NULLABLE"
	}
}

func bqColumn(f *bigquery.FieldSchema, position int) introspect.Column {
	mode := bqMode(f)
	col := introspect.Column{
		Name:              f.Name,
		TypeName:          bqTypeName(f.Type),
		OrdinalPosition:   position,
		ColumnDisplaySize: int(f.MaxLength),
		Precision:         int(f.Precision),
		Scale:             int(f.Scale),
		Nullable:          mode == "NULLABLE" || mode == "REPEATED",
	}
	col.AddProperty("mode", mode)
	col.AddProperty("description", f.Description)
	return col
}

func init() {
	db.Register(config.BigQuery, newBigQuery)
}

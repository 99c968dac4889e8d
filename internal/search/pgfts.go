package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// The tsvectors are computed per query; at admin-tool scale that beats
// maintaining trigger-fed fts columns.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across documents and content field
// values using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "to_tsvector('english', d.title) @@ " + tsQuery
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.title,
				''::text AS snippet,
				d.id AS document_id, ''::text AS datatype,
				ts_rank(to_tsvector('english', d.title), %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, docWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultBlock {
		blockWhere := "to_tsvector('english', cf.value) @@ " + tsQuery
		if q.FilterDocumentID != "" {
			blockWhere += fmt.Sprintf(" AND c.document_id = $%d", argN)
			args = append(args, q.FilterDocumentID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'block'::text AS type, c.id, cf.label AS title,
				ts_headline('english', cf.value, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.document_id, dt.label AS datatype,
				ts_rank(to_tsvector('english', cf.value), %s) AS rank
			FROM content_fields cf
			JOIN content c ON c.id = cf.content_id
			JOIN datatypes dt ON dt.id = c.datatype_id
			WHERE %s`, tsQuery, tsQuery, blockWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, document_id, datatype
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.DocumentID, &r.Datatype); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing. Field
// values are flattened into one body per content node.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, []BlockRecord, error) {
	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, title FROM documents
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Title); err != nil {
			return nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	blockRows, err := p.db.QueryContext(ctx, `
		SELECT c.id,
			string_agg(cf.value, ' ' ORDER BY cf.created_at),
			COALESCE(MAX(cf.label) FILTER (WHERE cf.field_id = 'title'), MIN(cf.label)),
			dt.label, c.document_id
		FROM content c
		JOIN content_fields cf ON cf.content_id = c.id
		JOIN datatypes dt ON dt.id = c.datatype_id
		GROUP BY c.id, dt.label, c.document_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load blocks: %w", err)
	}
	defer blockRows.Close()

	blocks := make([]BlockRecord, 0)
	for blockRows.Next() {
		var b BlockRecord
		if err := blockRows.Scan(&b.ID, &b.Body, &b.Label, &b.Datatype, &b.DocumentID); err != nil {
			return nil, nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := blockRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate blocks: %w", err)
	}

	return documents, blocks, nil
}

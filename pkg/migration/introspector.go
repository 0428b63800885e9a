package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/marshallshelly/crudschemas/pkg/runtime"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// Introspector inspects the live database schema.
type Introspector struct {
	q runtime.Querier
}

// NewIntrospector creates a new database introspector.
func NewIntrospector(q runtime.Querier) *Introspector {
	return &Introspector{q: q}
}

// IntrospectSchema introspects every base table in the given namespaces,
// keyed by qualified name. The schema_migrations table is skipped.
func (i *Introspector) IntrospectSchema(ctx context.Context, namespaces ...string) (map[string]*schema.TableMetadata, error) {
	tables := make(map[string]*schema.TableMetadata)

	for _, ns := range namespaces {
		names, err := i.getTableNames(ctx, ns)
		if err != nil {
			return nil, fmt.Errorf("failed to get table names in %s: %w", ns, err)
		}
		for _, name := range names {
			table, err := i.IntrospectTable(ctx, ns, name)
			if err != nil {
				return nil, fmt.Errorf("failed to introspect table %s.%s: %w", ns, name, err)
			}
			tables[table.QualifiedName()] = table
		}
	}

	return tables, nil
}

// IntrospectTable introspects a single table.
func (i *Introspector) IntrospectTable(ctx context.Context, namespace, tableName string) (*schema.TableMetadata, error) {
	table := &schema.TableMetadata{
		Schema: namespace,
		Name:   tableName,
	}

	var err error
	if table.Columns, err = i.getColumns(ctx, namespace, tableName); err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	if table.PrimaryKey, err = i.getPrimaryKey(ctx, namespace, tableName); err != nil {
		return nil, fmt.Errorf("failed to get primary key: %w", err)
	}
	if table.ForeignKeys, err = i.getForeignKeys(ctx, namespace, tableName); err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	if table.Indexes, err = i.getIndexes(ctx, namespace, tableName); err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}
	if table.Constraints, err = i.getConstraints(ctx, namespace, tableName); err != nil {
		return nil, fmt.Errorf("failed to get constraints: %w", err)
	}
	if table.EnumTypes, err = i.getEnumTypes(ctx, namespace, tableName); err != nil {
		return nil, fmt.Errorf("failed to get enum types: %w", err)
	}

	touched, err := i.hasTouchTrigger(ctx, namespace, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get triggers: %w", err)
	}
	if touched {
		if col, ok := table.Column(schema.TouchColumn); ok {
			col.AutoUpdate = true
		}
	}

	return table, nil
}

// getTableNames retrieves all base table names in a namespace.
func (i *Introspector) getTableNames(ctx context.Context, namespace string) ([]string, error) {
	rows, err := i.q.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND table_type = 'BASE TABLE'
		  AND table_name != 'schema_migrations'
		ORDER BY table_name`, namespace)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// getColumns retrieves column information for a table.
func (i *Introspector) getColumns(ctx context.Context, namespace, tableName string) ([]schema.ColumnMetadata, error) {
	rows, err := i.q.Query(ctx, `
		SELECT
			column_name,
			data_type,
			udt_schema,
			udt_name,
			character_maximum_length,
			numeric_precision,
			numeric_scale,
			is_nullable,
			column_default,
			ordinal_position,
			is_identity,
			identity_generation
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, namespace, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []schema.ColumnMetadata
	for rows.Next() {
		var (
			col                          schema.ColumnMetadata
			dataType, udtSchema, udtName string
			maxLength, precision, scale  *int
			isNullable, isIdentity       string
			generation                   *string
			position                     int
		)
		if err := rows.Scan(
			&col.Name, &dataType, &udtSchema, &udtName,
			&maxLength, &precision, &scale,
			&isNullable, &col.Default, &position,
			&isIdentity, &generation,
		); err != nil {
			return nil, err
		}

		col.SQLType = buildSQLType(dataType, udtSchema, udtName, maxLength, precision, scale)
		col.Nullable = isNullable == "YES"
		col.Position = position - 1
		if isIdentity == "YES" {
			gen := schema.IdentityByDefault
			if generation != nil && *generation == "ALWAYS" {
				gen = schema.IdentityAlways
			}
			col.Identity = &schema.IdentityColumn{Generation: gen}
		}

		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// getPrimaryKey retrieves primary key information. A table without one
// returns nil.
func (i *Introspector) getPrimaryKey(ctx context.Context, namespace, tableName string) (*schema.PrimaryKeyMetadata, error) {
	var pk schema.PrimaryKeyMetadata
	err := i.q.QueryRow(ctx, `
		SELECT
			con.conname,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			)
		FROM pg_constraint con
		JOIN pg_class rel ON rel.oid = con.conrelid
		JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
		WHERE nsp.nspname = $1 AND rel.relname = $2 AND con.contype = 'p'`,
		namespace, tableName,
	).Scan(&pk.Name, &pk.Columns)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &pk, nil
}

// getForeignKeys retrieves foreign keys with column order preserved and
// the referenced table schema-qualified.
func (i *Introspector) getForeignKeys(ctx context.Context, namespace, tableName string) ([]schema.ForeignKeyMetadata, error) {
	rows, err := i.q.Query(ctx, `
		SELECT
			con.conname,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			),
			fn.nspname || '.' || fc.relname,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			),
			con.confupdtype::text,
			con.confdeltype::text
		FROM pg_constraint con
		JOIN pg_class rel ON rel.oid = con.conrelid
		JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
		JOIN pg_class fc ON fc.oid = con.confrelid
		JOIN pg_namespace fn ON fn.oid = fc.relnamespace
		WHERE nsp.nspname = $1 AND rel.relname = $2 AND con.contype = 'f'
		ORDER BY con.conname`, namespace, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var foreignKeys []schema.ForeignKeyMetadata
	for rows.Next() {
		var fk schema.ForeignKeyMetadata
		var updateRule, deleteRule string
		if err := rows.Scan(&fk.Name, &fk.Columns, &fk.ReferencedTable, &fk.ReferencedColumns, &updateRule, &deleteRule); err != nil {
			return nil, err
		}
		fk.OnUpdate = parseReferenceAction(updateRule)
		fk.OnDelete = parseReferenceAction(deleteRule)
		foreignKeys = append(foreignKeys, fk)
	}
	return foreignKeys, rows.Err()
}

// getIndexes retrieves standalone indexes. Indexes that back PRIMARY KEY or
// UNIQUE constraints are managed through the constraints themselves.
func (i *Introspector) getIndexes(ctx context.Context, namespace, tableName string) ([]schema.IndexMetadata, error) {
	rows, err := i.q.Query(ctx, `
		SELECT
			ic.relname,
			ARRAY(
				SELECT a.attname::text
				FROM unnest(ix.indkey) WITH ORDINALITY AS x(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = x.attnum
				ORDER BY x.ord
			),
			ARRAY(
				SELECT (ix.indoption[(x.ord - 1)::int] & 1) = 1
				FROM unnest(ix.indkey) WITH ORDINALITY AS x(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = x.attnum
				ORDER BY x.ord
			),
			ix.indisunique,
			am.amname,
			COALESCE(pg_get_expr(ix.indpred, ix.indrelid), '')
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_namespace nsp ON nsp.oid = t.relnamespace
		JOIN pg_class ic ON ic.oid = ix.indexrelid
		JOIN pg_am am ON am.oid = ic.relam
		WHERE nsp.nspname = $1
			AND t.relname = $2
			AND NOT ix.indisprimary
			AND NOT EXISTS (
				SELECT 1 FROM pg_constraint c
				WHERE c.conindid = ix.indexrelid AND c.contype IN ('p', 'u', 'x')
			)
		ORDER BY ic.relname`, namespace, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var indexes []schema.IndexMetadata
	for rows.Next() {
		var idx schema.IndexMetadata
		var desc []bool
		if err := rows.Scan(&idx.Name, &idx.Columns, &desc, &idx.Unique, &idx.Type, &idx.Where); err != nil {
			return nil, err
		}
		for n, d := range desc {
			if d {
				idx.ColumnOrdering = append(idx.ColumnOrdering, schema.ColumnOrder{
					Column:    idx.Columns[n],
					Direction: schema.Descending,
				})
			}
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// getConstraints retrieves CHECK and UNIQUE constraints.
func (i *Introspector) getConstraints(ctx context.Context, namespace, tableName string) ([]schema.ConstraintMetadata, error) {
	rows, err := i.q.Query(ctx, `
		SELECT
			con.conname,
			con.contype::text,
			pg_get_constraintdef(con.oid),
			ARRAY(
				SELECT a.attname::text
				FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
				ORDER BY k.ord
			)
		FROM pg_constraint con
		JOIN pg_class rel ON rel.oid = con.conrelid
		JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
		WHERE nsp.nspname = $1
			AND rel.relname = $2
			AND con.contype IN ('c', 'u')
		ORDER BY con.conname`, namespace, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var constraints []schema.ConstraintMetadata
	for rows.Next() {
		var c schema.ConstraintMetadata
		var contype, def string
		if err := rows.Scan(&c.Name, &contype, &def, &c.Columns); err != nil {
			return nil, err
		}
		switch contype {
		case "c":
			c.Type = schema.CheckConstraint
			c.Expression = strings.TrimPrefix(def, "CHECK ")
		case "u":
			c.Type = schema.UniqueConstraint
		}
		constraints = append(constraints, c)
	}
	return constraints, rows.Err()
}

// getEnumTypes retrieves the enum types used by the table's columns.
func (i *Introspector) getEnumTypes(ctx context.Context, namespace, tableName string) ([]schema.EnumType, error) {
	rows, err := i.q.Query(ctx, `
		SELECT
			tn.nspname,
			ty.typname,
			ARRAY(SELECT e.enumlabel::text FROM pg_enum e WHERE e.enumtypid = ty.oid ORDER BY e.enumsortorder)
		FROM pg_attribute a
		JOIN pg_class rel ON rel.oid = a.attrelid
		JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
		JOIN pg_type ty ON ty.oid = a.atttypid
		JOIN pg_namespace tn ON tn.oid = ty.typnamespace
		WHERE nsp.nspname = $1
			AND rel.relname = $2
			AND a.attnum > 0
			AND NOT a.attisdropped
			AND ty.typtype = 'e'
		GROUP BY tn.nspname, ty.typname, ty.oid
		ORDER BY tn.nspname, ty.typname`, namespace, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enums []schema.EnumType
	for rows.Next() {
		var e schema.EnumType
		if err := rows.Scan(&e.Schema, &e.Name, &e.Values); err != nil {
			return nil, err
		}
		enums = append(enums, e)
	}
	return enums, rows.Err()
}

// hasTouchTrigger reports whether the table carries the updated_at trigger.
func (i *Introspector) hasTouchTrigger(ctx context.Context, namespace, tableName string) (bool, error) {
	var exists bool
	err := i.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_trigger tg
			JOIN pg_class rel ON rel.oid = tg.tgrelid
			JOIN pg_namespace nsp ON nsp.oid = rel.relnamespace
			WHERE nsp.nspname = $1 AND rel.relname = $2 AND tg.tgname = $3 AND NOT tg.tgisinternal
		)`, namespace, tableName, touchTriggerName(tableName),
	).Scan(&exists)
	return exists, err
}

// buildSQLType constructs the SQL type string from column metadata.
func buildSQLType(dataType, udtSchema, udtName string, maxLength, precision, scale *int) string {
	switch dataType {
	case "character varying":
		if maxLength != nil {
			return fmt.Sprintf("varchar(%d)", *maxLength)
		}
		return "varchar"
	case "character":
		if maxLength != nil {
			return fmt.Sprintf("char(%d)", *maxLength)
		}
		return "char"
	case "numeric":
		if precision != nil && scale != nil {
			return fmt.Sprintf("numeric(%d,%d)", *precision, *scale)
		}
		return "numeric"
	case "ARRAY":
		// array udt names carry a leading underscore
		if base, ok := strings.CutPrefix(udtName, "_"); ok {
			return normalizeType(base) + "[]"
		}
		return udtName
	case "USER-DEFINED":
		return udtSchema + "." + udtName
	default:
		return dataType
	}
}

// parseReferenceAction converts a pg_constraint action code to a ReferenceAction.
func parseReferenceAction(code string) schema.ReferenceAction {
	switch code {
	case "c":
		return schema.Cascade
	case "n":
		return schema.SetNull
	case "d":
		return schema.SetDefault
	case "r":
		return schema.Restrict
	default:
		return schema.NoAction
	}
}

package builder

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// fieldIndexes maps result column names to struct field index paths.
var fieldIndexes sync.Map // reflect.Type -> map[string][]int

// columnFields returns the column-to-field mapping of a struct type.
// Column names come from the first element of the po tag. Untagged
// anonymous struct fields are flattened, so a read model can embed a table model.
func columnFields(t reflect.Type) map[string][]int {
	if cached, ok := fieldIndexes.Load(t); ok {
		return cached.(map[string][]int)
	}
	fields := make(map[string][]int)
	collectFields(t, nil, fields)
	actual, _ := fieldIndexes.LoadOrStore(t, fields)
	return actual.(map[string][]int)
}

func collectFields(t reflect.Type, prefix []int, into map[string][]int) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		index := append(append([]int{}, prefix...), i)
		tag := field.Tag.Get(schema.StructTagKey)

		if field.Anonymous && tag == "" && field.Type.Kind() == reflect.Struct {
			collectFields(field.Type, index, into)
			continue
		}
		if !field.IsExported() || tag == "-" || tag == "" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			continue
		}
		// outer fields shadow embedded ones
		if _, taken := into[name]; !taken || len(index) < len(into[name]) {
			into[name] = index
		}
	}
}

// scanIntoStruct scans the current row into dest, matching columns by name.
// Result columns without a matching field are discarded.
func scanIntoStruct(rows pgx.Rows, dest any) error {
	destValue := reflect.ValueOf(dest)
	if destValue.Kind() != reflect.Ptr || destValue.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dest must be a pointer to struct, got %T", dest)
	}
	destValue = destValue.Elem()
	fields := columnFields(destValue.Type())

	descriptions := rows.FieldDescriptions()
	targets := make([]any, len(descriptions))
	for i, fd := range descriptions {
		index, ok := fields[fd.Name]
		if !ok {
			var discard any
			targets[i] = &discard
			continue
		}
		targets[i] = destValue.FieldByIndex(index).Addr().Interface()
	}

	if err := rows.Scan(targets...); err != nil {
		return fmt.Errorf("failed to scan row: %w", err)
	}
	return nil
}

// structToValues converts a model to column names and values for INSERT.
// It omits fields from the INSERT when:
//  1. the column is an identity column and the Go value is zero
//  2. the column has a database default and the Go value is zero
//
// so that ID int64 `po:"id,bigint,primaryKey,identity"` needs no pointer.
func structToValues(model any, table *schema.TableMetadata) ([]string, []any, error) {
	modelValue := reflect.ValueOf(model)
	if modelValue.Kind() == reflect.Ptr {
		modelValue = modelValue.Elem()
	}
	if modelValue.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("model must be a struct")
	}

	var columns []string
	var values []any

	for _, col := range table.Columns {
		field := modelValue.FieldByName(col.GoField)
		if !field.IsValid() {
			continue
		}
		if col.Identity != nil && field.IsZero() {
			continue
		}
		if col.Default != nil && field.IsZero() {
			continue
		}
		columns = append(columns, col.Name)
		values = append(values, field.Interface())
	}

	return columns, values, nil
}

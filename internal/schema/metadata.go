package schema

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// --- Entity Metadata Cache ---

// FieldInfo holds pre-computed metadata for a single attribute visible to scopes.
type FieldInfo struct {
	GoName string       // Go field name
	Column string       // Attribute name used in Where/Order clauses
	Index  []int        // Index for fast field access via FieldByIndex
	Type   reflect.Type // Field type
}

// EntityInfo holds pre-computed attribute metadata about an entity struct type.
type EntityInfo struct {
	Type             reflect.Type
	Columns          []string
	Fields           []FieldInfo
	ColumnToFieldMap map[string]int // Column name -> position in Fields
	FieldToColumnMap map[string]string
}

// infoCache stores EntityInfo structs, keyed by reflect.Type.
var infoCache sync.Map // map[reflect.Type]*EntityInfo

// GetEntityInfo retrieves or computes/caches attribute metadata for a struct type.
// Column names come from the `db` tag, then the `json` tag, then the snake_case field name.
// Fields tagged `db:"-"` are not addressable from a Scope.
func GetEntityInfo(entityType reflect.Type) (*EntityInfo, error) {
	for entityType.Kind() == reflect.Ptr {
		entityType = entityType.Elem()
	}
	if entityType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("expected a struct type, got %s", entityType.Kind())
	}

	if cached, ok := infoCache.Load(entityType); ok {
		return cached.(*EntityInfo), nil
	}

	info := &EntityInfo{
		Type:             entityType,
		ColumnToFieldMap: make(map[string]int),
		FieldToColumnMap: make(map[string]string),
	}

	var processFields func(structType reflect.Type, parentIndex []int)
	processFields = func(structType reflect.Type, parentIndex []int) {
		for i := 0; i < structType.NumField(); i++ {
			field := structType.Field(i)
			index := append(append([]int{}, parentIndex...), i)

			// Embedded structs contribute their attributes directly.
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				processFields(field.Type, index)
				continue
			}
			if !field.IsExported() {
				continue
			}

			column := columnName(field)
			if column == "" {
				continue
			}
			if _, exists := info.ColumnToFieldMap[column]; exists {
				// First declaration wins.
				continue
			}
			info.ColumnToFieldMap[column] = len(info.Fields)
			info.FieldToColumnMap[field.Name] = column
			info.Columns = append(info.Columns, column)
			info.Fields = append(info.Fields, FieldInfo{
				GoName: field.Name,
				Column: column,
				Index:  index,
				Type:   field.Type,
			})
		}
	}
	processFields(entityType, nil)

	actual, _ := infoCache.LoadOrStore(entityType, info)
	return actual.(*EntityInfo), nil
}

// Lookup resolves a column (or, failing that, a Go field name) to its field metadata.
func (info *EntityInfo) Lookup(column string) (FieldInfo, bool) {
	if pos, ok := info.ColumnToFieldMap[column]; ok {
		return info.Fields[pos], true
	}
	for _, f := range info.Fields {
		if f.GoName == column {
			return f, true
		}
	}
	return FieldInfo{}, false
}

// Value returns the attribute value for column on the struct value v (pointers are dereferenced).
func (info *EntityInfo) Value(v reflect.Value, column string) (reflect.Value, error) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("nil %s value", info.Type.Name())
		}
		v = v.Elem()
	}
	f, ok := info.Lookup(column)
	if !ok {
		return reflect.Value{}, fmt.Errorf("column '%s' not found in entity %s", column, info.Type.Name())
	}
	return v.FieldByIndex(f.Index), nil
}

func columnName(field reflect.StructField) string {
	if tag, ok := field.Tag.Lookup("db"); ok {
		name := strings.Split(tag, ",")[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	if tag, ok := field.Tag.Lookup("json"); ok {
		name := strings.Split(tag, ",")[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return ToSnakeCase(field.Name)
}

var (
	matchFirstCap = regexp.MustCompile("(.)([A-Z][a-z]+)")
	matchAllCap   = regexp.MustCompile("([a-z0-9])([A-Z])")
)

// ToSnakeCase converts a CamelCase Go identifier to snake_case.
func ToSnakeCase(str string) string {
	snake := matchFirstCap.ReplaceAllString(str, "${1}_${2}")
	snake = matchAllCap.ReplaceAllString(snake, "${1}_${2}")
	return strings.ToLower(snake)
}

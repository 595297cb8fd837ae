package syncstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/burugo/syncstore/internal/schema"
	"github.com/burugo/syncstore/internal/utils"
)

var (
	andSplitter = regexp.MustCompile(`(?i)\s+AND\s+`)
	orDetector  = regexp.MustCompile(`(?i)\s+OR\s+`)
	timeType    = reflect.TypeOf(time.Time{})
)

// condition is one parsed "column OP ?" term of a Where clause.
type condition struct {
	column string
	field  schema.FieldInfo
	op     string
	arg    interface{}
}

// compiledScope is a Scope resolved against one entity type.
type compiledScope struct {
	info       *schema.EntityInfo
	conditions []condition
	order      []schema.FieldInfo
	keys       []SortKey
}

func compileScope(entityType reflect.Type, s Scope) (*compiledScope, error) {
	info, err := schema.GetEntityInfo(entityType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	conds, err := parseWhere(info, s.Where, s.Args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	cs := &compiledScope{info: info, conditions: conds, keys: s.Order}
	for _, key := range s.Order {
		f, ok := info.Lookup(key.Column)
		if !ok {
			return nil, fmt.Errorf("%w: sort column '%s' not found in entity %s", ErrInvalidScope, key.Column, entityType.Name())
		}
		cs.order = append(cs.order, f)
	}
	if s.SectionKey != "" {
		f, ok := info.Lookup(s.SectionKey)
		if !ok {
			return nil, fmt.Errorf("%w: section column '%s' not found in entity %s", ErrInvalidScope, s.SectionKey, entityType.Name())
		}
		// Sections must be contiguous runs of the sort order.
		if len(cs.order) == 0 || !slices.Equal(cs.order[0].Index, f.Index) {
			return nil, fmt.Errorf("%w: section column '%s' must be the first sort key", ErrInvalidScope, s.SectionKey)
		}
	}
	return cs, nil
}

// parseWhere parses "column OP ?" conditions joined by AND.
func parseWhere(info *schema.EntityInfo, where string, args []interface{}) ([]condition, error) {
	where = strings.TrimSpace(where)
	if where == "" {
		if len(args) != 0 {
			return nil, fmt.Errorf("%d arguments given for an empty WHERE clause", len(args))
		}
		return nil, nil
	}
	if orDetector.MatchString(where) {
		return nil, fmt.Errorf("unsupported WHERE clause structure: '%s'. OR clauses are not supported", where)
	}

	expectedArgs := strings.Count(where, "?")
	if expectedArgs != len(args) {
		return nil, fmt.Errorf("mismatched number of placeholders ('?') and arguments: %d vs %d in WHERE clause '%s'", expectedArgs, len(args), where)
	}

	var conds []condition
	argIndex := 0
	for _, raw := range andSplitter.Split(where, -1) {
		parts := strings.Fields(raw)
		if len(parts) < 3 {
			return nil, fmt.Errorf("unsupported condition format: '%s'. Expected column OP ?", raw)
		}
		column := strings.Trim(parts[0], "\"`'")
		field, ok := info.Lookup(column)
		if !ok {
			return nil, fmt.Errorf("column '%s' from WHERE clause not found in entity %s", column, info.Type.Name())
		}
		op := strings.ToUpper(parts[1])
		cond := condition{column: column, field: field}

		switch {
		case len(parts) == 3 && op == "IS" && strings.ToUpper(parts[2]) == "NULL":
			cond.op = "IS NULL"
		case len(parts) == 4 && op == "IS" && strings.ToUpper(parts[2]) == "NOT" && strings.ToUpper(parts[3]) == "NULL":
			cond.op = "IS NOT NULL"
		case len(parts) == 3 && op == "IN" && parts[2] == "(?)":
			arg := reflect.ValueOf(args[argIndex])
			if arg.Kind() != reflect.Slice && arg.Kind() != reflect.Array {
				return nil, fmt.Errorf("IN operator requires a slice or array argument, got %T", args[argIndex])
			}
			cond.op = "IN"
			cond.arg = args[argIndex]
			argIndex++
		case len(parts) == 3 && parts[2] == "?":
			switch op {
			case "=", "==", "!=", "<>", "LIKE", ">", "<", ">=", "<=":
			default:
				return nil, fmt.Errorf("unsupported operator '%s' in condition '%s'", op, raw)
			}
			if op == "==" {
				op = "="
			}
			if op == "<>" {
				op = "!="
			}
			cond.op = op
			cond.arg = args[argIndex]
			argIndex++
		default:
			return nil, fmt.Errorf("unsupported condition format: '%s'. Expected column OP ? or column IN (?)", raw)
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

// match evaluates every condition against the struct value v.
func (cs *compiledScope) match(v reflect.Value) (bool, error) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return false, nil
		}
		v = v.Elem()
	}
	for _, cond := range cs.conditions {
		fieldVal := v.FieldByIndex(cond.field.Index)
		met, err := evalCondition(fieldVal, cond)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidScope, err)
		}
		if !met {
			return false, nil
		}
	}
	return true, nil
}

func evalCondition(fieldVal reflect.Value, cond condition) (bool, error) {
	switch cond.op {
	case "IS NULL":
		return utils.IsZero(fieldVal), nil
	case "IS NOT NULL":
		return !utils.IsZero(fieldVal), nil
	}

	if fieldVal.Kind() == reflect.Ptr {
		if fieldVal.IsNil() {
			switch cond.op {
			case "=":
				return cond.arg == nil, nil
			case "!=":
				return cond.arg != nil, nil
			default:
				return false, nil
			}
		}
		fieldVal = fieldVal.Elem()
	}

	switch cond.op {
	case "=":
		return equalValues(fieldVal, cond.arg), nil
	case "!=":
		return !equalValues(fieldVal, cond.arg), nil
	case "LIKE":
		modelStr, modelOk := fieldVal.Interface().(string)
		patternStr, patternOk := cond.arg.(string)
		if !modelOk || !patternOk {
			return false, fmt.Errorf("LIKE operator requires string field and pattern, got %s and %T for column '%s'", fieldVal.Type(), cond.arg, cond.column)
		}
		return matchLike(modelStr, patternStr), nil
	case ">", "<", ">=", "<=":
		c, err := compareToArg(fieldVal, cond.arg)
		if err != nil {
			return false, fmt.Errorf("cannot compare %s on column '%s': %w", cond.op, cond.column, err)
		}
		switch cond.op {
		case ">":
			return c > 0, nil
		case "<":
			return c < 0, nil
		case ">=":
			return c >= 0, nil
		default:
			return c <= 0, nil
		}
	case "IN":
		argSlice := reflect.ValueOf(cond.arg)
		for i := 0; i < argSlice.Len(); i++ {
			if equalValues(fieldVal, argSlice.Index(i).Interface()) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("unsupported operator '%s'", cond.op)
}

// equalValues compares a field value with a raw argument, converting compatible kinds.
func equalValues(fieldVal reflect.Value, arg interface{}) bool {
	if arg == nil {
		return false
	}
	argVal := reflect.ValueOf(arg)
	for argVal.Kind() == reflect.Ptr {
		if argVal.IsNil() {
			return false
		}
		argVal = argVal.Elem()
	}
	if converted, ok := convertArg(argVal, fieldVal.Type()); ok {
		if fieldVal.Type() == timeType {
			return fieldVal.Interface().(time.Time).Equal(converted.Interface().(time.Time))
		}
		return reflect.DeepEqual(fieldVal.Interface(), converted.Interface())
	}
	return reflect.DeepEqual(fieldVal.Interface(), argVal.Interface())
}

// convertArg converts v to type t, refusing the numeric <-> string conversions
// reflect would otherwise allow.
func convertArg(v reflect.Value, t reflect.Type) (reflect.Value, bool) {
	if !v.Type().ConvertibleTo(t) {
		return reflect.Value{}, false
	}
	if (v.Kind() == reflect.String) != (t.Kind() == reflect.String) {
		return reflect.Value{}, false
	}
	return v.Convert(t), true
}

// compareToArg returns -1, 0 or 1 comparing the field with the argument.
func compareToArg(fieldVal reflect.Value, arg interface{}) (int, error) {
	argVal := reflect.ValueOf(arg)
	if !argVal.IsValid() {
		return 0, fmt.Errorf("nil argument")
	}
	switch fieldVal.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		a, ok := toFloat64(argVal)
		if !ok {
			return 0, fmt.Errorf("field is numeric (%s) but arg is %T", fieldVal.Type(), arg)
		}
		m, _ := toFloat64(fieldVal)
		return compareOrdered(m, a), nil
	case reflect.String:
		if argVal.Kind() != reflect.String {
			return 0, fmt.Errorf("field is string but arg is %T", arg)
		}
		return strings.Compare(fieldVal.String(), argVal.String()), nil
	case reflect.Struct:
		if fieldVal.Type() == timeType {
			at, ok := arg.(time.Time)
			if !ok {
				return 0, fmt.Errorf("field is time.Time but arg is %T", arg)
			}
			return fieldVal.Interface().(time.Time).Compare(at), nil
		}
	}
	return 0, fmt.Errorf("unsupported type %s for comparison operators (> < >= <=)", fieldVal.Type())
}

func toFloat64(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	default:
		return 0, false
	}
}

func compareOrdered[V int64 | float64 | string](a, b V) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// matchLike checks if s matches a SQL LIKE pattern ('%' any run, '_' one rune),
// case-insensitively like SQLite does for ASCII.
func matchLike(s, pattern string) bool {
	var b strings.Builder
	b.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// compare orders two struct values by the compiled sort keys, then by entity
// ID, returning -1, 0 or 1.
func (cs *compiledScope) compare(a, b reflect.Value, collator *collate.Collator) int {
	a, b = reflect.Indirect(a), reflect.Indirect(b)
	for i, f := range cs.order {
		c := compareFields(a.FieldByIndex(f.Index), b.FieldByIndex(f.Index), cs.keys[i].Localized, collator)
		if cs.keys[i].Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(entityID(a), entityID(b))
}

func compareFields(a, b reflect.Value, localized bool, collator *collate.Collator) int {
	if a.Kind() == reflect.Ptr {
		switch {
		case a.IsNil() && b.IsNil():
			return 0
		case a.IsNil():
			return -1
		case b.IsNil():
			return 1
		}
		a, b = a.Elem(), b.Elem()
	}
	switch a.Kind() {
	case reflect.String:
		if localized && collator != nil {
			return collator.CompareString(a.String(), b.String())
		}
		return strings.Compare(a.String(), b.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return compareOrdered(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		fa, _ := toFloat64(a)
		fb, _ := toFloat64(b)
		return compareOrdered(fa, fb)
	case reflect.Bool:
		switch {
		case a.Bool() == b.Bool():
			return 0
		case !a.Bool():
			return -1
		default:
			return 1
		}
	case reflect.Struct:
		if a.Type() == timeType {
			return a.Interface().(time.Time).Compare(b.Interface().(time.Time))
		}
	}
	return strings.Compare(fmt.Sprint(a.Interface()), fmt.Sprint(b.Interface()))
}

func entityID(v reflect.Value) string {
	if v.CanAddr() {
		if e, ok := v.Addr().Interface().(Entity); ok {
			return e.GetID()
		}
	}
	if e, ok := v.Interface().(Entity); ok {
		return e.GetID()
	}
	return ""
}

func newCollator() *collate.Collator {
	return collate.New(language.Und, collate.IgnoreCase, collate.Numeric)
}

// sortValues sorts a slice value (of structs or pointers to structs) in place.
func (cs *compiledScope) sortValues(slice reflect.Value) {
	collator := newCollator()
	sort.SliceStable(slice.Interface(), func(i, j int) bool {
		return cs.compare(slice.Index(i), slice.Index(j), collator) < 0
	})
}

// Match reports whether entity (a struct or pointer to struct) satisfies the scope's predicate.
func (s Scope) Match(entity interface{}) (bool, error) {
	v := reflect.ValueOf(entity)
	if !v.IsValid() {
		return false, ErrInvalidEntity
	}
	cs, err := compileScope(v.Type(), s)
	if err != nil {
		return false, err
	}
	return cs.match(v)
}

// SectionName returns the grouping value of entity under the scope's section key.
func (s Scope) SectionName(entity interface{}) string {
	if s.SectionKey == "" {
		return ""
	}
	v := reflect.ValueOf(entity)
	if !v.IsValid() {
		return ""
	}
	info, err := schema.GetEntityInfo(v.Type())
	if err != nil {
		return ""
	}
	fv, err := info.Value(v, s.SectionKey)
	if err != nil {
		return ""
	}
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return ""
		}
		fv = fv.Elem()
	}
	return fmt.Sprint(fv.Interface())
}

// Materialize decodes JSON payloads into dest (a pointer to a slice of T or
// *T), keeping only entities that match scope, ordered by scope.
// Local store drivers use it to answer scoped queries.
func Materialize(payloads [][]byte, scope Scope, dest interface{}) error {
	destVal := reflect.ValueOf(dest)
	if destVal.Kind() != reflect.Ptr || destVal.IsNil() || destVal.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("%w, got %T", ErrInvalidDest, dest)
	}
	sliceVal := destVal.Elem()
	elemType := sliceVal.Type().Elem()
	isPtr := elemType.Kind() == reflect.Ptr
	baseType := elemType
	if isPtr {
		baseType = elemType.Elem()
	}

	cs, err := compileScope(baseType, scope)
	if err != nil {
		return err
	}

	result := reflect.MakeSlice(sliceVal.Type(), 0, len(payloads))
	for _, payload := range payloads {
		item := reflect.New(baseType)
		if err := json.Unmarshal(payload, item.Interface()); err != nil {
			return fmt.Errorf("decode %s payload: %w", baseType.Name(), err)
		}
		ok, err := cs.match(item)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if isPtr {
			result = reflect.Append(result, item)
		} else {
			result = reflect.Append(result, item.Elem())
		}
	}
	cs.sortValues(result)
	sliceVal.Set(result)
	return nil
}

// Sort orders entities (a pointer to a slice of structs or struct pointers) by
// the scope's sort keys. The predicate is not applied.
func (s Scope) Sort(entities interface{}) error {
	v := reflect.ValueOf(entities)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("%w, got %T", ErrInvalidDest, entities)
	}
	cs, err := compileScope(v.Elem().Type().Elem(), Scope{Order: s.Order})
	if err != nil {
		return err
	}
	cs.sortValues(v.Elem())
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// lookupFunc resolves one environment variable.
type lookupFunc func(key string) (string, bool)

// loadFromEnv overlays ADGATE_* environment variables onto cfg. Nested sections
// carry their own fully qualified tags.
func loadFromEnv(cfg *Config) error {
	return overlayEnv(cfg, os.LookupEnv)
}

// overlayEnv walks v, a pointer to a struct, and assigns every field whose env
// tag resolves to a non-empty value. All conversion failures are reported.
func overlayEnv(v any, lookup lookupFunc) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Pointer || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %T", v)
	}
	var errs []error
	walkEnv(val.Elem(), lookup, &errs)
	return errors.Join(errs...)
}

func walkEnv(val reflect.Value, lookup lookupFunc, errs *[]error) {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		sf := typ.Field(i)
		if !sf.IsExported() {
			continue
		}
		if field.Kind() == reflect.Struct && sf.Type != durationType {
			walkEnv(field, lookup, errs)
			continue
		}
		key := sf.Tag.Get("env")
		if key == "" {
			continue
		}
		raw, ok := lookup(key)
		if !ok || raw == "" {
			continue
		}
		if err := setFromString(field, raw); err != nil {
			*errs = append(*errs, fmt.Errorf("%s (%s): %w", key, sf.Name, err))
		}
	}
}

// setFromString converts raw into field's kind.
func setFromString(field reflect.Value, raw string) error {
	if !field.CanSet() {
		return errors.New("field is not settable")
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q", raw)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", raw)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float %q", raw)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem().Kind())
		}
		// comma-separated; blanks dropped
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		slice := reflect.MakeSlice(field.Type(), len(items), len(items))
		for i, item := range items {
			slice.Index(i).SetString(item)
		}
		field.Set(slice)
	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map %s", field.Type())
		}
		// key=value,key2=value2
		m := reflect.MakeMapWithSize(field.Type(), 0)
		for _, pair := range strings.Split(raw, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid map entry %q", pair)
			}
			m.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(v))
		}
		field.Set(m)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
